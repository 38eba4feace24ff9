// Package shell connects the sidecar supervisor to the desktop host's
// lifecycle: startup runs Setup, and window events drive shutdown.
package shell

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
)

// WindowEvent is a host window lifecycle event.
type WindowEvent int

const (
	// CloseRequested is delivered when the user or the OS asks the window
	// to close.
	CloseRequested WindowEvent = iota + 1
	// Focused and Resized are delivered but do not affect the sidecar.
	Focused
	Resized
)

func (e WindowEvent) String() string {
	switch e {
	case CloseRequested:
		return "close-requested"
	case Focused:
		return "focused"
	case Resized:
		return "resized"
	default:
		return fmt.Sprintf("window-event(%d)", int(e))
	}
}

// Supervisor is the part of supervisor.Supervisor the shell drives.
type Supervisor interface {
	Start(ctx context.Context) error
	Kill()
	PID() int
}

// Notifier reports state to a service manager.
type Notifier interface {
	Notify(state string) error
}

// SystemdNotifier sends sd_notify messages. It is a no-op outside systemd.
type SystemdNotifier struct{}

func (SystemdNotifier) Notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

// App is the desktop shell application state shared between startup and
// the window event handler.
type App struct {
	supervisor Supervisor
	notifier   Notifier
	logger     *slog.Logger
}

// New creates an App. A nil notifier uses SystemdNotifier.
func New(sup Supervisor, notifier Notifier, logger *slog.Logger) *App {
	if notifier == nil {
		notifier = SystemdNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{supervisor: sup, notifier: notifier, logger: logger}
}

// Setup starts the sidecar. It blocks until the sidecar is ready or
// startup has failed; every error is fatal to the application.
func (a *App) Setup(ctx context.Context) error {
	if err := a.supervisor.Start(ctx); err != nil {
		return err
	}
	a.notify(fmt.Sprintf("READY=1\nSTATUS=sidecar running (pid %d)", a.supervisor.PID()))
	return nil
}

// HandleWindowEvent reacts to a window event. A close request kills the
// sidecar so it is never orphaned.
func (a *App) HandleWindowEvent(ev WindowEvent) {
	if ev != CloseRequested {
		return
	}
	a.logger.Info("window close requested, stopping sidecar")
	a.notify(daemon.SdNotifyStopping)
	a.supervisor.Kill()
}

// Run performs Setup and then dispatches window events until a close
// request arrives, events is closed, or ctx is cancelled. The sidecar is
// always killed before Run returns.
func (a *App) Run(ctx context.Context, events <-chan WindowEvent) error {
	defer a.supervisor.Kill()

	if err := a.Setup(ctx); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				a.HandleWindowEvent(CloseRequested)
				return nil
			}
			a.logger.Debug("window event", "event", ev)
			a.HandleWindowEvent(ev)
			if ev == CloseRequested {
				return nil
			}
		case <-ctx.Done():
			a.HandleWindowEvent(CloseRequested)
			return nil
		}
	}
}

func (a *App) notify(state string) {
	if err := a.notifier.Notify(state); err != nil {
		a.logger.Debug("sd_notify failed", "error", err)
	}
}
