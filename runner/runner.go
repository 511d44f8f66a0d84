// Package runner owns worker process lifecycle: starting persistent worker
// processes and terminating them. Two backends exist, plain OS processes
// and docker containers, behind one interface so the pool never cares
// which it drives.
package runner

import (
	"context"
	"time"
)

// Worker is a runner-owned handle to one live worker process.
type Worker struct {
	// PID of the worker process. Zero for container-backed workers.
	PID int

	// ContainerID of the worker container. Empty for exec-backed workers.
	ContainerID string

	// StartedAt is when the worker came up.
	StartedAt time.Time

	done chan struct{}
	stop func(ctx context.Context) error
	live func() bool
}

// Runner starts and stops worker processes.
type Runner interface {
	// Start launches one worker and returns its handle.
	Start(ctx context.Context) (*Worker, error)

	// Stop terminates the worker, gracefully first, then by force. It is
	// idempotent: stopping an already-dead worker succeeds.
	Stop(ctx context.Context, w *Worker) error

	// Alive reports whether the worker process is still running.
	Alive(w *Worker) bool
}
