//go:build unix

package exec

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mbrock/sidecar/internal/process"
)

func TestBackend_EnvAndWorkingDir(t *testing.T) {
	b := New()
	defer b.Close()

	dir := t.TempDir()
	var stdout bytes.Buffer

	h, err := b.Start(context.Background(), process.Spec{
		Name:        "env",
		Command:     []string{"/bin/sh", "-c", `echo "$PORT"; pwd`},
		WorkingDir:  dir,
		Environment: map[string]string{"PORT": "1430"},
		Stdout:      &stdout,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", stdout.String())
	}
	if lines[0] != "1430" {
		t.Errorf("expected PORT=1430, got %q", lines[0])
	}
	wantDir, _ := filepath.EvalSymlinks(dir)
	gotDir, _ := filepath.EvalSymlinks(lines[1])
	if gotDir != wantDir {
		t.Errorf("expected cwd %q, got %q", wantDir, gotDir)
	}
}

func TestBackend_KillAndWait(t *testing.T) {
	b := New()
	defer b.Close()

	h, err := b.Start(context.Background(), process.Spec{
		Name:    "sleeper",
		Command: []string{"/bin/sh", "-c", "sleep 30"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("expected a PID, got %d", h.PID())
	}

	if err := h.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = h.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Kill")
	}

	// A second kill and wait on a reaped process are harmless.
	if err := h.Kill(); err != nil {
		t.Errorf("Kill after exit: %v", err)
	}
	_ = h.Wait()
}

func TestBackend_StartMissingBinary(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Start(context.Background(), process.Spec{
		Command: []string{filepath.Join(t.TempDir(), "no-such-node")},
	})
	if err == nil {
		t.Fatal("expected error starting missing binary")
	}
}

func TestBackend_EmptyCommand(t *testing.T) {
	if _, err := New().Start(context.Background(), process.Spec{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}
