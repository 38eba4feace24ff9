// Package launcher starts the bundled sidecar server.
//
// Launch resolves the sidecar directory and the runtime binary, then spawns
// "<runtime> <entry script>" inside the sidecar directory with the bind
// address and database URL in its environment.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mbrock/sidecar/internal/eventlog"
	"github.com/mbrock/sidecar/internal/process"
	"github.com/mbrock/sidecar/internal/resource"
)

// RuntimeSource records where the runtime binary came from.
type RuntimeSource string

const (
	SourceBundled  RuntimeSource = "bundled"
	SourceOverride RuntimeSource = "override"
	SourceFallback RuntimeSource = "fallback"
)

// Child environment variable names.
const (
	EnvHost        = "HOSTNAME"
	EnvPort        = "PORT"
	EnvDatabaseURL = "DATABASE_URL"
)

// Config holds what Launch needs to build the command.
type Config struct {
	Host string
	Port int

	EntryScript  string
	DatabaseFile string

	// Layout gives the candidate paths for the target platform.
	Layout resource.Layout

	// OverrideEnv names the trusted runtime override variable.
	OverrideEnv string

	// FallbackRuntime is the last-resort runtime path or name.
	FallbackRuntime string
}

// Launcher starts the sidecar process.
type Launcher struct {
	cfg     Config
	locator *resource.Locator
	backend process.Backend
	events  eventlog.EventLog
	lookup  func(string) (string, bool)
	environ func() []string
	logger  *slog.Logger
}

// Options wires a Launcher's collaborators. Nil fields use real defaults.
type Options struct {
	Locator *resource.Locator
	Backend process.Backend
	Events  eventlog.EventLog

	// LookupEnv reads the override variable. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// Environ supplies the inherited child environment. Defaults to os.Environ.
	Environ func() []string

	Logger *slog.Logger
}

// New creates a Launcher.
func New(cfg Config, opts Options) *Launcher {
	l := &Launcher{
		cfg:     cfg,
		locator: opts.Locator,
		backend: opts.Backend,
		events:  opts.Events,
		lookup:  opts.LookupEnv,
		environ: opts.Environ,
		logger:  opts.Logger,
	}
	if l.lookup == nil {
		l.lookup = os.LookupEnv
	}
	if l.environ == nil {
		l.environ = os.Environ
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.events == nil {
		l.events = eventlog.NewSlog(l.logger)
	}
	return l
}

// Command is a fully resolved sidecar invocation.
type Command struct {
	Runtime       string
	RuntimeSource RuntimeSource
	Dir           string
	EntryScript   string
	DatabasePath  string
	Environment   map[string]string
}

// Resolve locates the sidecar resources and builds the command without
// starting anything.
func (l *Launcher) Resolve() (*Command, error) {
	dir, err := l.locator.Locate(l.cfg.Layout.SidecarDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSidecarDirNotFound, err)
	}
	// The child runs inside dir, so every path handed to it must be absolute.
	if dir, err = filepath.Abs(dir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSidecarDirNotFound, err)
	}

	entry := filepath.Join(dir, l.cfg.EntryScript)
	dbPath := filepath.Join(dir, l.cfg.DatabaseFile)
	if !l.exists(entry) {
		return nil, &MissingEntryScriptError{Path: entry}
	}

	runtime, source := l.selectRuntime()

	env := environMap(l.environ())
	env[EnvHost] = l.cfg.Host
	env[EnvPort] = strconv.Itoa(l.cfg.Port)
	env[EnvDatabaseURL] = "file:" + dbPath

	return &Command{
		Runtime:       runtime,
		RuntimeSource: source,
		Dir:           dir,
		EntryScript:   entry,
		DatabasePath:  dbPath,
		Environment:   env,
	}, nil
}

// selectRuntime picks the bundled runtime, then the trusted override, then
// the platform fallback.
func (l *Launcher) selectRuntime() (string, RuntimeSource) {
	if bundled, err := l.locator.Locate(l.cfg.Layout.Runtime); err == nil {
		return bundled, SourceBundled
	}
	if override, ok := resource.TrustedOverride(l.lookup, l.locator.Exists, l.cfg.OverrideEnv); ok {
		return override, SourceOverride
	}
	if v, set := l.lookup(l.cfg.OverrideEnv); set && v != "" {
		l.logger.Warn("ignoring untrusted runtime override", "env", l.cfg.OverrideEnv, "value", v)
	}
	return l.cfg.FallbackRuntime, SourceFallback
}

func (l *Launcher) exists(path string) bool {
	if l.locator.Exists != nil {
		return l.locator.Exists(path)
	}
	return resource.PathExists(path)
}

// Launch resolves and starts the sidecar, returning its live handle.
func (l *Launcher) Launch(ctx context.Context) (process.Handle, error) {
	cmd, err := l.Resolve()
	if err != nil {
		return nil, err
	}

	if cmd.RuntimeSource == SourceFallback {
		l.logger.Warn("no bundled runtime or trusted override; using fallback runtime", "runtime", cmd.Runtime)
	} else {
		l.logger.Debug("selected runtime", "runtime", cmd.Runtime, "source", cmd.RuntimeSource)
	}

	stdout := eventlog.NewOutputWriter(l.events, 1, nil)
	stderr := eventlog.NewOutputWriter(l.events, 2, nil)
	spec := process.Spec{
		Name:        "next",
		Command:     []string{cmd.Runtime, cmd.EntryScript},
		WorkingDir:  cmd.Dir,
		Description: "Next.js sidecar " + cmd.EntryScript,
		Environment: cmd.Environment,
		Stdout:      stdout,
		Stderr:      stderr,
	}

	started, err := l.backend.Start(ctx, spec)
	if err != nil {
		return nil, &SpawnError{Runtime: cmd.Runtime, Err: err}
	}
	h := &outputHandle{Handle: started, writers: []*eventlog.OutputWriter{stdout, stderr}}

	if err := eventlog.EmitLaunched(l.events, h.PID(), cmd.Runtime, string(cmd.RuntimeSource), cmd.Dir); err != nil {
		l.logger.Warn("failed to record launch event", "error", err)
	}
	return h, nil
}

// outputHandle flushes the child's trailing partial output lines once the
// process has been reaped.
type outputHandle struct {
	process.Handle

	once    sync.Once
	writers []*eventlog.OutputWriter
}

func (h *outputHandle) Wait() error {
	err := h.Handle.Wait()
	h.once.Do(func() {
		for _, w := range h.writers {
			w.Flush()
		}
	})
	return err
}

func environMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ)+3)
	for _, e := range environ {
		// Skip underscore-prefixed shell internals and Windows "=C:" entries.
		if strings.HasPrefix(e, "_") || strings.HasPrefix(e, "=") {
			continue
		}
		if idx := strings.Index(e, "="); idx > 0 {
			env[e[:idx]] = e[idx+1:]
		}
	}
	return env
}
