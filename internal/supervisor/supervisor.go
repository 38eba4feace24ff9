// Package supervisor owns the sidecar process for the lifetime of the
// desktop shell.
//
// The supervisor holds at most one process handle, guarded by a mutex.
// Start launches the sidecar and blocks until it accepts TCP connections or
// the readiness timeout expires, in which case the half-started child is
// killed. Kill is safe to call from any goroutine, any number of times: only
// the first call that finds a handle terminates and reaps the process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mbrock/sidecar/internal/eventlog"
	"github.com/mbrock/sidecar/internal/probe"
	"github.com/mbrock/sidecar/internal/process"
)

var (
	// ErrNotReady is returned when the sidecar never accepted a connection.
	ErrNotReady = errors.New("sidecar did not become healthy in time")

	// ErrAlreadyRunning is returned by Start while a sidecar is held.
	ErrAlreadyRunning = errors.New("sidecar already running")
)

// Kill reasons recorded in events and metrics.
const (
	ReasonTimeout = "readiness-timeout"
	ReasonClose   = "window-close"
)

// Launcher starts the sidecar process.
type Launcher interface {
	Launch(ctx context.Context) (process.Handle, error)
}

// ProbeFunc reports whether host:port became reachable within opts.Timeout.
type ProbeFunc func(ctx context.Context, host string, port int, opts probe.Options) bool

// Config holds the readiness parameters.
type Config struct {
	Host         string
	Port         int
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

// Supervisor owns the sidecar process handle.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	probe    ProbeFunc
	events   eventlog.EventLog
	metrics  *Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	handle process.Handle
}

// Options wires optional collaborators.
type Options struct {
	Events  eventlog.EventLog
	Metrics *Metrics
	Logger  *slog.Logger

	// Probe defaults to probe.Wait.
	Probe ProbeFunc
}

// New creates a Supervisor in the NoProcess state.
func New(cfg Config, launcher Launcher, opts Options) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		probe:    opts.Probe,
		events:   opts.Events,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if s.probe == nil {
		s.probe = probe.Wait
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.events == nil {
		s.events = eventlog.NewSlog(s.logger)
	}
	return s
}

// Start launches the sidecar and waits for it to become reachable. Any
// error is fatal to application startup; nothing is retried.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.handle != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	h, err := s.launcher.Launch(ctx)
	if err != nil {
		s.mu.Unlock()
		s.metrics.recordLaunch("error")
		return err
	}
	s.handle = h
	s.mu.Unlock()

	s.metrics.recordLaunch("ok")
	s.metrics.setRunning(true)

	address := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.logger.Info("waiting for sidecar", "pid", h.PID(), "address", address, "timeout", s.cfg.ReadyTimeout)

	started := time.Now()
	ready := s.probe(ctx, s.cfg.Host, s.cfg.Port, probe.Options{
		Timeout:  s.cfg.ReadyTimeout,
		Interval: s.cfg.PollInterval,
	})
	elapsed := time.Since(started)
	s.metrics.recordProbe(ready, elapsed)

	if !ready {
		_ = eventlog.EmitNotReady(s.events, h.PID(), address, elapsed)
		s.kill(ReasonTimeout)
		return fmt.Errorf("%w (%s after %s)", ErrNotReady, address, elapsed.Round(time.Millisecond))
	}

	_ = eventlog.EmitReady(s.events, h.PID(), address, elapsed)
	s.logger.Info("sidecar ready", "pid", h.PID(), "elapsed", elapsed.Round(time.Millisecond))
	return nil
}

// Kill terminates and reaps the sidecar, if one is held. Termination errors
// are ignored: a process that is already gone is not a failure.
func (s *Supervisor) Kill() {
	s.kill(ReasonClose)
}

func (s *Supervisor) kill(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.handle
	if h == nil {
		return
	}
	s.handle = nil

	pid := h.PID()
	_ = h.Kill()
	_ = h.Wait()

	s.metrics.recordKill(reason)
	s.metrics.setRunning(false)
	_ = eventlog.EmitKilled(s.events, pid, reason)
	s.logger.Info("sidecar stopped", "pid", pid, "reason", reason)
}

// Running reports whether a sidecar handle is held.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// PID returns the held sidecar's PID, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}
