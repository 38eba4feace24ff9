// Package config holds sidecar-shell settings: compiled-in defaults, an
// optional YAML file and SIDECAR_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbrock/sidecar/internal/eventlog"
	"github.com/mbrock/sidecar/internal/process"
	"github.com/mbrock/sidecar/internal/resource"
)

// Defaults for the bundled Next.js sidecar.
const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 1430
	DefaultReadyTimeout = 20 * time.Second
	DefaultPollInterval = 150 * time.Millisecond
	DefaultEntryScript  = "server.js"
	DefaultDatabaseFile = "dev.db"
)

// Config is the complete sidecar-shell configuration.
type Config struct {
	// Host and Port are the loopback address the sidecar binds and the
	// readiness probe dials.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// ResourceDir is the bundled-resource base directory. Empty means
	// dirs.ResourceDir().
	ResourceDir string `yaml:"resource_dir"`

	EntryScript  string `yaml:"entry_script"`
	DatabaseFile string `yaml:"database_file"`

	// OverrideEnv names the variable holding a trusted runtime path.
	OverrideEnv string `yaml:"override_env"`

	// FallbackRuntime is used when neither a bundled runtime nor a trusted
	// override is found. It is not guaranteed to exist.
	FallbackRuntime string `yaml:"fallback_runtime"`

	Backend process.Kind  `yaml:"backend"`
	Log     eventlog.Kind `yaml:"log"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		ReadyTimeout:    DefaultReadyTimeout,
		PollInterval:    DefaultPollInterval,
		EntryScript:     DefaultEntryScript,
		DatabaseFile:    DefaultDatabaseFile,
		OverrideEnv:     resource.OverrideEnv,
		FallbackRuntime: FallbackRuntime(runtime.GOOS),
		Backend:         process.KindExec,
		Log:             eventlog.KindAuto,
	}
}

// FallbackRuntime returns the last-resort runtime for goos.
func FallbackRuntime(goos string) string {
	if goos == "windows" {
		return "node.exe"
	}
	return "/opt/homebrew/bin/node"
}

// Load reads a YAML file over the defaults. A missing file is not an error
// when optional is true.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays SIDECAR_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup("SIDECAR_HOST"); ok && v != "" {
		c.Host = v
	}
	if v, ok := lookup("SIDECAR_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIDECAR_PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := lookup("SIDECAR_READY_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SIDECAR_READY_TIMEOUT: %w", err)
		}
		c.ReadyTimeout = d
	}
	if v, ok := lookup("SIDECAR_RESOURCE_DIR"); ok && v != "" {
		c.ResourceDir = v
	}
	if v, ok := lookup("SIDECAR_BACKEND"); ok && v != "" {
		c.Backend = process.Kind(v)
	}
	if v, ok := lookup("SIDECAR_LOG"); ok && v != "" {
		c.Log = eventlog.Kind(v)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be positive, got %s", c.ReadyTimeout)
	}
	if c.PollInterval <= 0 || c.PollInterval >= c.ReadyTimeout {
		return fmt.Errorf("poll_interval %s must be positive and below ready_timeout %s", c.PollInterval, c.ReadyTimeout)
	}
	if c.EntryScript == "" {
		return errors.New("entry_script is empty")
	}
	if c.DatabaseFile == "" {
		return errors.New("database_file is empty")
	}
	switch c.Backend {
	case process.KindAuto, process.KindExec, process.KindSystemd:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Log {
	case eventlog.KindAuto, eventlog.KindJournal, eventlog.KindStderr:
	default:
		return fmt.Errorf("unknown log %q", c.Log)
	}
	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
