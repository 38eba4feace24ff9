// Package fake provides an in-memory process.Backend for tests.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mbrock/sidecar/internal/process"
)

// ErrKilled is the Wait result of a process that was killed.
var ErrKilled = errors.New("signal: killed")

// Backend records started specs and hands out controllable handles.
type Backend struct {
	mu      sync.Mutex
	nextPID int
	started []process.Spec
	handles []*Handle

	// StartErr, when set, is returned by Start instead of a handle.
	StartErr error

	// OnStart runs after a handle is created, outside the lock.
	OnStart func(spec process.Spec, h *Handle)
}

var _ process.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{nextPID: 1000}
}

func (b *Backend) Start(ctx context.Context, spec process.Spec) (process.Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	b.mu.Lock()
	if b.StartErr != nil {
		err := b.StartErr
		b.mu.Unlock()
		return nil, err
	}
	b.nextPID++
	h := &Handle{pid: b.nextPID, done: make(chan struct{})}
	b.started = append(b.started, spec)
	b.handles = append(b.handles, h)
	onStart := b.OnStart
	b.mu.Unlock()

	if onStart != nil {
		onStart(spec, h)
	}
	return h, nil
}

func (b *Backend) Close() error { return nil }

// Started returns the specs passed to Start, in order.
func (b *Backend) Started() []process.Spec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]process.Spec(nil), b.started...)
}

// Handles returns every handle created so far.
func (b *Backend) Handles() []*Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Handle(nil), b.handles...)
}

// Handle is a fake process that runs until killed or exited.
type Handle struct {
	pid int

	mu    sync.Mutex
	kills int
	waits int
	done  chan struct{}
	err   error
}

var _ process.Handle = (*Handle)(nil)

func (h *Handle) PID() int { return h.pid }

// Kill terminates the fake process. Only the first call that finds it
// running counts as a termination.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return errors.New("os: process already finished")
	default:
	}
	h.kills++
	h.err = ErrKilled
	close(h.done)
	return nil
}

// Exit makes the fake process exit on its own.
func (h *Handle) Exit(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.err = err
	close(h.done)
}

func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waits++
	return h.err
}

// Kills returns how many times Kill terminated the process.
func (h *Handle) Kills() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kills
}

// Waits returns how many times Wait returned.
func (h *Handle) Waits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waits
}

// Running reports whether the fake process has not yet exited.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
