package exec

import (
	"context"
	"fmt"
	"io"
	osexec "os/exec"
	"sort"
	"sync"

	"github.com/mbrock/sidecar/internal/process"
)

// Backend is a portable process.Backend backed by plain OS processes.
type Backend struct {
	mu    sync.Mutex
	procs map[*procHandle]struct{}
}

var _ process.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		procs: make(map[*procHandle]struct{}),
	}
}

type procHandle struct {
	cmd  *osexec.Cmd
	done chan struct{}
	err  error
}

var _ process.Handle = (*procHandle)(nil)

// Close kills every process this backend started that is still running.
func (b *Backend) Close() error {
	b.mu.Lock()
	procs := make([]*procHandle, 0, len(b.procs))
	for p := range b.procs {
		procs = append(procs, p)
	}
	b.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
		_ = p.Wait()
	}
	return nil
}

func (b *Backend) Start(ctx context.Context, spec process.Spec) (process.Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Not CommandContext: the child must outlive the startup context.
	cmd := osexec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = envList(spec.Environment)
	cmd.Stdout = orDiscard(spec.Stdout)
	cmd.Stderr = orDiscard(spec.Stderr)
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &procHandle{cmd: cmd, done: make(chan struct{})}

	b.mu.Lock()
	b.procs[p] = struct{}{}
	b.mu.Unlock()

	go func() {
		p.err = cmd.Wait()
		close(p.done)

		b.mu.Lock()
		delete(b.procs, p)
		b.mu.Unlock()
	}()

	return p, nil
}

func (p *procHandle) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *procHandle) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killProcess(p.cmd)
}

func (p *procHandle) Wait() error {
	<-p.done
	return p.err
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
