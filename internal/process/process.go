// Package process defines the backend contract for starting and reaping
// the sidecar child process.
package process

import (
	"context"
	"io"

	"github.com/godbus/dbus/v5"
)

// Kind identifies a backend implementation.
type Kind string

const (
	KindAuto    Kind = "auto"
	KindExec    Kind = "exec"
	KindSystemd Kind = "systemd"
)

// Spec describes a process to start.
type Spec struct {
	// Name is a short identifier used for unit names and log fields.
	Name string

	// Command is the executable followed by its arguments.
	Command []string

	WorkingDir  string
	Description string

	// Environment is the complete child environment.
	Environment map[string]string

	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Handle is a live child process.
type Handle interface {
	// PID returns the OS process ID, or 0 if unknown.
	PID() int

	// Kill forcefully terminates the process.
	Kill() error

	// Wait blocks until the process has exited and been reaped.
	// Calling it more than once returns the same result.
	Wait() error
}

// Backend starts processes.
type Backend interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
	Close() error
}

// DetectKind returns the appropriate backend based on environment.
// Returns systemd if the systemd user service is available on D-Bus, otherwise exec.
func DetectKind() Kind {
	if hasSystemdUserService() {
		return KindSystemd
	}
	return KindExec
}

// hasSystemdUserService checks if the systemd user manager owns its name on
// the session bus.
func hasSystemdUserService() bool {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return false
	}
	defer conn.Close()

	var owner string
	err = conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus").
		Call("org.freedesktop.DBus.GetNameOwner", 0, "org.freedesktop.systemd1").
		Store(&owner)

	return err == nil && owner != ""
}
