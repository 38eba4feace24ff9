package supervisor

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/net/nettest"

	"github.com/mbrock/sidecar/internal/eventlog"
	"github.com/mbrock/sidecar/internal/launcher"
	"github.com/mbrock/sidecar/internal/probe"
	"github.com/mbrock/sidecar/internal/process"
	"github.com/mbrock/sidecar/internal/process/fake"
	"github.com/mbrock/sidecar/internal/resource"
)

// resourceTree creates a bundled-resource layout under a temp dir.
func resourceTree(t *testing.T, withEntry bool) string {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "next-standalone")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if withEntry {
		if err := os.WriteFile(filepath.Join(dir, "server.js"), []byte("// server\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return base
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp4")
	if err != nil {
		t.Fatalf("NewLocalListener: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

type harness struct {
	backend process.Backend
	fake    *fake.Backend
	events  *eventlog.FakeEventLog
	metrics *Metrics
	env     map[string]string
	probes  int
	mu      sync.Mutex
}

func newHarness() *harness {
	fb := fake.New()
	return &harness{
		backend: fb,
		fake:    fb,
		events:  eventlog.NewFake(),
		metrics: NewMetrics("test", prometheus.NewRegistry()),
		env:     make(map[string]string),
	}
}

func (h *harness) supervisor(base string, port int, timeout time.Duration) *Supervisor {
	l := launcher.New(launcher.Config{
		Host:            "127.0.0.1",
		Port:            port,
		EntryScript:     "server.js",
		DatabaseFile:    "dev.db",
		Layout:          resource.LayoutFor("linux"),
		OverrideEnv:     resource.OverrideEnv,
		FallbackRuntime: "/opt/homebrew/bin/node",
	}, launcher.Options{
		Locator: resource.NewLocator(base),
		Backend: h.backend,
		Events:  h.events,
		LookupEnv: func(k string) (string, bool) {
			v, ok := h.env[k]
			return v, ok
		},
	})

	return New(Config{
		Host:         "127.0.0.1",
		Port:         port,
		ReadyTimeout: timeout,
		PollInterval: 20 * time.Millisecond,
	}, l, Options{
		Events:  h.events,
		Metrics: h.metrics,
		Probe: func(ctx context.Context, host string, port int, opts probe.Options) bool {
			h.mu.Lock()
			h.probes++
			h.mu.Unlock()
			return probe.Wait(ctx, host, port, opts)
		},
	})
}

func TestStart_MissingEntryScript(t *testing.T) {
	h := newHarness()
	s := h.supervisor(resourceTree(t, false), freePort(t), time.Second)

	err := s.Start(context.Background())
	var missing *launcher.MissingEntryScriptError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingEntryScriptError, got %v", err)
	}
	if !strings.Contains(err.Error(), "run the prepare step") {
		t.Errorf("expected remediation hint in %q", err.Error())
	}
	if n := len(h.fake.Started()); n != 0 {
		t.Errorf("expected no spawn, got %d", n)
	}
	if h.probes != 0 {
		t.Errorf("expected no probe, got %d", h.probes)
	}
	if s.Running() {
		t.Error("expected no process held")
	}
}

func TestStart_ReadinessTimeoutKillsChild(t *testing.T) {
	h := newHarness()
	node := filepath.Join("node-runtime", "bin", "node")
	base := resourceTree(t, true)
	if err := os.MkdirAll(filepath.Join(base, filepath.Dir(node)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, node), nil, 0o755); err != nil {
		t.Fatal(err)
	}

	timeout := 400 * time.Millisecond
	s := h.supervisor(base, freePort(t), timeout)

	start := time.Now()
	err := s.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Errorf("gave up after %s, before the %s timeout", elapsed, timeout)
	}

	handles := h.fake.Handles()
	if len(handles) != 1 {
		t.Fatalf("expected 1 spawned process, got %d", len(handles))
	}
	if handles[0].Kills() != 1 || handles[0].Running() {
		t.Errorf("expected the half-started child killed once, kills=%d running=%v", handles[0].Kills(), handles[0].Running())
	}
	if s.Running() {
		t.Error("expected empty slot after timeout")
	}

	got := h.events.Events()
	want := []string{eventlog.EventLaunched, eventlog.EventNotReady, eventlog.EventKilled}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected events %v, got %v", want, got)
	}
	if v := testutil.ToFloat64(h.metrics.kills.WithLabelValues(ReasonTimeout)); v != 1 {
		t.Errorf("expected 1 timeout kill metric, got %v", v)
	}
}

func TestStart_ReadyThenCloseKillsOnce(t *testing.T) {
	h := newHarness()
	port := freePort(t)

	var ln net.Listener
	var lnMu sync.Mutex
	h.fake.OnStart = func(spec process.Spec, _ *fake.Handle) {
		// The "server" starts listening shortly after launch.
		go func() {
			time.Sleep(200 * time.Millisecond)
			l, err := net.Listen("tcp4", spec.Environment[launcher.EnvHost]+":"+spec.Environment[launcher.EnvPort])
			if err != nil {
				return
			}
			lnMu.Lock()
			ln = l
			lnMu.Unlock()
		}()
	}
	defer func() {
		lnMu.Lock()
		if ln != nil {
			ln.Close()
		}
		lnMu.Unlock()
	}()

	s := h.supervisor(resourceTree(t, true), port, 5*time.Second)

	start := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ready took %s", elapsed)
	}
	if !s.Running() || s.PID() == 0 {
		t.Fatal("expected a running sidecar")
	}

	s.Kill()
	s.Kill()

	handle := h.fake.Handles()[0]
	if handle.Kills() != 1 {
		t.Errorf("expected exactly one kill, got %d", handle.Kills())
	}
	if s.Running() || s.PID() != 0 {
		t.Error("expected empty slot after close")
	}
}

func TestKill_ConcurrentKillsTerminateOnce(t *testing.T) {
	h := newHarness()
	s := h.supervisor(resourceTree(t, true), freePort(t), time.Second)
	s.probe = func(context.Context, string, int, probe.Options) bool { return true }

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Kill()
		}()
	}
	wg.Wait()

	handle := h.fake.Handles()[0]
	if handle.Kills() != 1 {
		t.Errorf("expected 1 kill, got %d", handle.Kills())
	}
	if handle.Waits() != 1 {
		t.Errorf("expected 1 reap, got %d", handle.Waits())
	}
	if s.Running() {
		t.Error("expected empty slot")
	}
}

func TestKill_NoProcessIsNoop(t *testing.T) {
	h := newHarness()
	s := h.supervisor(resourceTree(t, true), freePort(t), time.Second)

	s.Kill()
	s.Kill()

	if len(h.events.Events()) != 0 {
		t.Errorf("expected no events, got %v", h.events.Events())
	}
}

func TestKill_AlreadyExitedChild(t *testing.T) {
	h := newHarness()
	s := h.supervisor(resourceTree(t, true), freePort(t), time.Second)
	s.probe = func(context.Context, string, int, probe.Options) bool { return true }

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	handle := h.fake.Handles()[0]
	handle.Exit(errors.New("exit status 1"))

	s.Kill()
	if s.Running() {
		t.Error("expected empty slot even though the child was already gone")
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	h := newHarness()
	s := h.supervisor(resourceTree(t, true), freePort(t), time.Second)
	s.probe = func(context.Context, string, int, probe.Options) bool { return true }

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Kill()

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if n := len(h.fake.Started()); n != 1 {
		t.Errorf("expected 1 spawn, got %d", n)
	}
}

func TestStart_RelativeOverrideUsesFallback(t *testing.T) {
	h := newHarness()
	h.env[resource.OverrideEnv] = "node-runtime/bin/node"
	s := h.supervisor(resourceTree(t, true), freePort(t), time.Second)
	s.probe = func(context.Context, string, int, probe.Options) bool { return true }

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Kill()

	if got := h.fake.Started()[0].Command[0]; got != "/opt/homebrew/bin/node" {
		t.Errorf("expected fallback runtime, got %q", got)
	}
}
