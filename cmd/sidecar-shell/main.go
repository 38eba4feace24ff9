// sidecar-shell - Desktop shell that supervises the bundled web-app server
//
// Usage:
//
//	sidecar-shell [flags]
//
// The shell starts the Next.js sidecar from the bundled resources, waits
// until it accepts connections on its loopback port, and kills it when the
// window closes. SIGINT and SIGTERM are treated as a window close request.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/mbrock/sidecar/internal/config"
	"github.com/mbrock/sidecar/internal/dirs"
	"github.com/mbrock/sidecar/internal/eventlog"
	"github.com/mbrock/sidecar/internal/launcher"
	"github.com/mbrock/sidecar/internal/process"
	"github.com/mbrock/sidecar/internal/process/exec"
	"github.com/mbrock/sidecar/internal/process/systemd"
	"github.com/mbrock/sidecar/internal/resource"
	"github.com/mbrock/sidecar/internal/shell"
	"github.com/mbrock/sidecar/internal/supervisor"
)

var (
	configFlag       string
	resourceDirFlag  string
	hostFlag         string
	portFlag         int
	readyTimeoutFlag time.Duration
	backendFlag      string
	logFlag          string
	metricsAddrFlag  string
	debugFlag        bool
)

func main() {
	flag.StringVarP(&configFlag, "config", "c", os.Getenv("SIDECAR_CONFIG"), "YAML config file (overrides SIDECAR_CONFIG)")
	flag.StringVar(&resourceDirFlag, "resource-dir", "", "Bundled resource base directory")
	flag.StringVar(&hostFlag, "host", config.DefaultHost, "Sidecar bind host")
	flag.IntVarP(&portFlag, "port", "p", config.DefaultPort, "Sidecar bind port")
	flag.DurationVar(&readyTimeoutFlag, "ready-timeout", config.DefaultReadyTimeout, "How long to wait for the sidecar to accept connections")
	flag.StringVar(&backendFlag, "backend", string(process.KindExec), "Process backend: auto, exec, systemd")
	flag.StringVar(&logFlag, "log", string(eventlog.KindAuto), "Event log: auto, journal, stderr")
	flag.StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&debugFlag, "debug", os.Getenv("SIDECAR_DEBUG") != "", "Enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `sidecar-shell - Desktop shell for the bundled web-app server

Usage:
  sidecar-shell [flags]

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	logLevel := slog.LevelInfo
	if debugFlag {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := loadConfig()
	if err != nil {
		fatal("%v", err)
	}

	if err := run(cfg); err != nil {
		fatal("%v", err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig applies defaults, then the config file, then SIDECAR_* env,
// then explicitly set flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFlag, !flag.CommandLine.Changed("config") && os.Getenv("SIDECAR_CONFIG") == "")
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return cfg, err
	}

	fs := flag.CommandLine
	if fs.Changed("resource-dir") {
		cfg.ResourceDir = resourceDirFlag
	}
	if fs.Changed("host") {
		cfg.Host = hostFlag
	}
	if fs.Changed("port") {
		cfg.Port = portFlag
	}
	if fs.Changed("ready-timeout") {
		cfg.ReadyTimeout = readyTimeoutFlag
	}
	if fs.Changed("backend") {
		cfg.Backend = process.Kind(backendFlag)
	}
	if fs.Changed("log") {
		cfg.Log = eventlog.Kind(logFlag)
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddrFlag
	}
	if cfg.ResourceDir == "" {
		cfg.ResourceDir = dirs.ResourceDir()
	}
	if abs, err := filepath.Abs(cfg.ResourceDir); err == nil {
		cfg.ResourceDir = abs
	}

	return cfg, cfg.Validate()
}

func run(cfg config.Config) error {
	logger := slog.Default()
	ctx := context.Background()

	events, err := eventlog.Open(cfg.Log, logger)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer events.Close()

	backend, err := openBackend(ctx, cfg.Backend)
	if err != nil {
		return err
	}
	defer backend.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := supervisor.NewMetrics("sidecar", registry)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer srv.Close()
	}

	logger.Debug("resolving sidecar resources", "base", cfg.ResourceDir, "backend", cfg.Backend)

	l := launcher.New(launcher.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		EntryScript:     cfg.EntryScript,
		DatabaseFile:    cfg.DatabaseFile,
		Layout:          resource.CurrentLayout(),
		OverrideEnv:     cfg.OverrideEnv,
		FallbackRuntime: cfg.FallbackRuntime,
	}, launcher.Options{
		Locator: resource.NewLocator(cfg.ResourceDir),
		Backend: backend,
		Events:  events,
		Logger:  logger,
	})

	sup := supervisor.New(supervisor.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadyTimeout: cfg.ReadyTimeout,
		PollInterval: cfg.PollInterval,
	}, l, supervisor.Options{
		Events:  events,
		Metrics: metrics,
		Logger:  logger,
	})

	app := shell.New(sup, nil, logger)
	return app.Run(ctx, windowEvents())
}

func openBackend(ctx context.Context, kind process.Kind) (process.Backend, error) {
	if kind == process.KindAuto {
		kind = process.DetectKind()
	}
	switch kind {
	case process.KindSystemd:
		b, err := systemd.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return b, nil
	case process.KindExec:
		return exec.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// windowEvents delivers a close request for each SIGINT or SIGTERM.
func windowEvents() <-chan shell.WindowEvent {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	events := make(chan shell.WindowEvent, 1)
	go func() {
		for sig := range sigChan {
			slog.Debug("received signal", "signal", sig)
			select {
			case events <- shell.CloseRequested:
			default:
			}
		}
	}()
	return events
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}
