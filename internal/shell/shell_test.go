package shell

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	startErr error
	starts   int
	kills    int
	running  bool
}

func (s *fakeSupervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

func (s *fakeSupervisor) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.kills++
	}
	s.running = false
}

func (s *fakeSupervisor) PID() int { return 4242 }

func (s *fakeSupervisor) Kills() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kills
}

type fakeNotifier struct {
	mu     sync.Mutex
	states []string
}

func (n *fakeNotifier) Notify(state string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
	return nil
}

func TestRun_CloseRequestKillsSidecar(t *testing.T) {
	sup := &fakeSupervisor{}
	notifier := &fakeNotifier{}
	app := New(sup, notifier, nil)

	events := make(chan WindowEvent, 3)
	events <- Focused
	events <- Resized
	events <- CloseRequested

	if err := app.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sup.Kills() != 1 {
		t.Errorf("expected 1 kill, got %d", sup.Kills())
	}

	if len(notifier.states) != 2 {
		t.Fatalf("expected READY and STOPPING notifications, got %q", notifier.states)
	}
	if !strings.HasPrefix(notifier.states[0], "READY=1") || !strings.Contains(notifier.states[0], "pid 4242") {
		t.Errorf("unexpected ready notification %q", notifier.states[0])
	}
	if notifier.states[1] != "STOPPING=1" {
		t.Errorf("unexpected stopping notification %q", notifier.states[1])
	}
}

func TestRun_SetupFailure(t *testing.T) {
	sup := &fakeSupervisor{startErr: errors.New("sidecar did not become healthy in time")}
	notifier := &fakeNotifier{}
	app := New(sup, notifier, nil)

	err := app.Run(context.Background(), make(chan WindowEvent))
	if err == nil || err.Error() != "sidecar did not become healthy in time" {
		t.Fatalf("expected startup error, got %v", err)
	}
	if len(notifier.states) != 0 {
		t.Errorf("expected no READY notification, got %q", notifier.states)
	}
}

func TestRun_ContextCancelKills(t *testing.T) {
	sup := &fakeSupervisor{}
	app := New(sup, &fakeNotifier{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, make(chan WindowEvent)) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sup.Kills() != 1 {
		t.Errorf("expected 1 kill, got %d", sup.Kills())
	}
}

func TestHandleWindowEvent_IgnoresOtherEvents(t *testing.T) {
	sup := &fakeSupervisor{running: true}
	app := New(sup, &fakeNotifier{}, nil)

	app.HandleWindowEvent(Focused)
	if sup.Kills() != 0 {
		t.Errorf("expected no kill on focus, got %d", sup.Kills())
	}

	app.HandleWindowEvent(CloseRequested)
	app.HandleWindowEvent(CloseRequested)
	if sup.Kills() != 1 {
		t.Errorf("expected 1 kill, got %d", sup.Kills())
	}
}

func TestWindowEvent_String(t *testing.T) {
	if CloseRequested.String() != "close-requested" {
		t.Errorf("got %q", CloseRequested.String())
	}
	if WindowEvent(99).String() != "window-event(99)" {
		t.Errorf("got %q", WindowEvent(99).String())
	}
}
