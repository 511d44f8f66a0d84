package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/use-agent/nodekeeper/proc"
)

// ExecRunner spawns workers as plain child processes of the manager.
type ExecRunner struct {
	binary    string
	args      []string
	stopGrace time.Duration
}

// NewExecRunner creates a runner launching the given worker binary.
// stopGrace is how long Stop waits after SIGTERM before sending SIGKILL.
func NewExecRunner(binary string, args []string, stopGrace time.Duration) *ExecRunner {
	if stopGrace <= 0 {
		stopGrace = 5 * time.Second
	}
	return &ExecRunner{binary: binary, args: args, stopGrace: stopGrace}
}

// Start launches one worker process. The marker token rides along as the
// final argument and the marker env var is set, so host-wide scans (and the
// worker itself) can identify it.
func (r *ExecRunner) Start(ctx context.Context) (*Worker, error) {
	args := make([]string, 0, len(r.args)+1)
	args = append(args, r.args...)
	args = append(args, proc.MarkerToken)

	cmd := exec.Command(r.binary, args...)
	cmd.Env = append(os.Environ(), proc.MarkerEnv+"=1")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runner: start %s: %w", r.binary, err)
	}

	w := &Worker{
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	// Reap the child as soon as it exits; leaving it unwaited would leak a
	// zombie for every terminated worker.
	go func() {
		_ = cmd.Wait()
		close(w.done)
	}()

	w.stop = func(ctx context.Context) error {
		return r.stopProcess(ctx, cmd, w)
	}
	w.live = func() bool {
		select {
		case <-w.done:
			return false
		default:
			return true
		}
	}
	return w, nil
}

// Stop terminates the worker: SIGTERM, a grace window, then SIGKILL.
func (r *ExecRunner) Stop(ctx context.Context, w *Worker) error {
	if w == nil || w.stop == nil {
		return nil
	}
	return w.stop(ctx)
}

// Alive reports whether the worker process has exited yet.
func (r *ExecRunner) Alive(w *Worker) bool {
	if w == nil || w.live == nil {
		return false
	}
	return w.live()
}

func (r *ExecRunner) stopProcess(ctx context.Context, cmd *exec.Cmd, w *Worker) error {
	select {
	case <-w.done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone between the check and the signal.
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	case <-time.After(r.stopGrace):
	}

	if err := cmd.Process.Kill(); err != nil {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
