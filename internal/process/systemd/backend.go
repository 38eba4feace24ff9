// Package systemd runs the sidecar as a transient systemd user unit.
//
// The unit inherits resource accounting and journald output from the user
// manager, and the supervisor still owns its lifetime: Kill signals every
// process in the unit and Wait polls until the unit is no longer active.
package systemd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"

	"github.com/mbrock/sidecar/internal/process"
)

// unitManager is the subset of *dbus.Conn used by Backend.
type unitManager interface {
	StartTransientUnitContext(ctx context.Context, name string, mode string, properties []dbus.Property, ch chan<- string) (int, error)
	KillUnitWithTarget(ctx context.Context, unit string, target dbus.Who, signal int32) error
	GetUnitPropertyContext(ctx context.Context, unit string, propertyName string) (*dbus.Property, error)
	GetServicePropertyContext(ctx context.Context, service string, propertyName string) (*dbus.Property, error)
	ResetFailedUnitContext(ctx context.Context, name string) error
	Close()
}

// PollInterval is how often Wait checks the unit's ActiveState.
var PollInterval = 100 * time.Millisecond

// Backend implements process.Backend using transient units.
type Backend struct {
	conn unitManager
}

var _ process.Backend = (*Backend)(nil)

// Connect connects to the user's systemd instance.
func Connect(ctx context.Context) (*Backend, error) {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to user systemd: %w", err)
	}
	return &Backend{conn: conn}, nil
}

// Close releases the D-Bus connection.
func (b *Backend) Close() error {
	b.conn.Close()
	return nil
}

// UnitName returns the transient unit name for a process spec name.
func UnitName(name string) string {
	return fmt.Sprintf("sidecar-%s-%d.service", name, os.Getpid())
}

func (b *Backend) Start(ctx context.Context, spec process.Spec) (process.Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	unit := UnitName(spec.Name)
	// A failed unit from an earlier run would block the name.
	_ = b.conn.ResetFailedUnitContext(ctx, unit)

	resultChan := make(chan string, 1)
	if _, err := b.conn.StartTransientUnitContext(ctx, unit, "replace", transientProperties(spec), resultChan); err != nil {
		return nil, fmt.Errorf("starting transient unit: %w", err)
	}

	select {
	case result := <-resultChan:
		if result != "done" {
			return nil, fmt.Errorf("start job failed: %s", result)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h := &unitHandle{conn: b.conn, unit: unit}
	if prop, err := b.conn.GetServicePropertyContext(ctx, unit, "MainPID"); err == nil {
		if pid, ok := prop.Value.Value().(uint32); ok {
			h.pid = int(pid)
		}
	}
	return h, nil
}

func transientProperties(spec process.Spec) []dbus.Property {
	description := spec.Description
	if description == "" {
		description = spec.Name
	}

	props := []dbus.Property{
		dbus.PropExecStart(spec.Command, false),
		dbus.PropDescription(description),
		dbus.PropType("exec"),
		{
			Name:  "CollectMode",
			Value: godbus.MakeVariant("inactive-or-failed"),
		},
		{
			Name:  "StandardOutput",
			Value: godbus.MakeVariant("journal"),
		},
		{
			Name:  "StandardError",
			Value: godbus.MakeVariant("journal"),
		},
	}

	if spec.WorkingDir != "" {
		props = append(props, dbus.Property{
			Name:  "WorkingDirectory",
			Value: godbus.MakeVariant(spec.WorkingDir),
		})
	}

	if len(spec.Environment) > 0 {
		envList := make([]string, 0, len(spec.Environment))
		for k, v := range spec.Environment {
			envList = append(envList, k+"="+v)
		}
		sort.Strings(envList)
		props = append(props, dbus.Property{
			Name:  "Environment",
			Value: godbus.MakeVariant(envList),
		})
	}

	return props
}

type unitHandle struct {
	conn unitManager
	unit string
	pid  int

	once sync.Once
	err  error
}

func (h *unitHandle) PID() int { return h.pid }

// Kill sends SIGKILL to all processes in the unit.
func (h *unitHandle) Kill() error {
	return h.conn.KillUnitWithTarget(context.Background(), h.unit, dbus.All, int32(syscall.SIGKILL))
}

// Wait polls the unit until it is inactive or failed.
func (h *unitHandle) Wait() error {
	h.once.Do(func() {
		ctx := context.Background()
		for {
			prop, err := h.conn.GetUnitPropertyContext(ctx, h.unit, "ActiveState")
			if err != nil {
				h.err = fmt.Errorf("getting unit state: %w", err)
				return
			}
			state, _ := prop.Value.Value().(string)
			switch state {
			case "inactive":
				return
			case "failed":
				h.err = fmt.Errorf("unit %s failed", h.unit)
				return
			}
			time.Sleep(PollInterval)
		}
	})
	return h.err
}
