package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// WorkerLabel marks every worker container started by any manager instance
// on the host. The docker-backed system-wide count filters on it.
const WorkerLabel = "nodekeeper.worker"

// DockerRunner runs workers as containers. Useful when build workers need
// a hermetic toolchain image rather than a binary on the host.
type DockerRunner struct {
	cli       *client.Client
	image     string
	cmd       []string
	stopGrace time.Duration
}

// NewDockerRunner connects to the local docker daemon (env-configured) and
// returns a runner launching workers from the given image and command.
func NewDockerRunner(image string, cmd []string, stopGrace time.Duration) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithVersion("1.44"))
	if err != nil {
		return nil, fmt.Errorf("runner: docker client: %w", err)
	}
	if stopGrace <= 0 {
		stopGrace = 5 * time.Second
	}
	return &DockerRunner{cli: cli, image: image, cmd: cmd, stopGrace: stopGrace}, nil
}

// Start creates and starts one labeled worker container.
func (r *DockerRunner) Start(ctx context.Context) (*Worker, error) {
	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:  r.image,
		Cmd:    r.cmd,
		Labels: map[string]string{WorkerLabel: "true"},
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("runner: create worker container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("runner: start worker container: %w", err)
	}

	return &Worker{
		ContainerID: resp.ID,
		StartedAt:   time.Now(),
	}, nil
}

// Stop stops the worker container with the grace window, then removes it.
func (r *DockerRunner) Stop(ctx context.Context, w *Worker) error {
	if w == nil || w.ContainerID == "" {
		return nil
	}

	grace := int(r.stopGrace.Seconds())
	if err := r.cli.ContainerStop(ctx, w.ContainerID, container.StopOptions{Timeout: &grace}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("runner: stop worker container: %w", err)
	}

	if err := r.cli.ContainerRemove(ctx, w.ContainerID, types.ContainerRemoveOptions{}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("runner: remove worker container: %w", err)
	}
	return nil
}

// Alive inspects the container and reports whether it is still running.
func (r *DockerRunner) Alive(w *Worker) bool {
	if w == nil || w.ContainerID == "" {
		return false
	}
	info, err := r.cli.ContainerInspect(context.Background(), w.ContainerID)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

// CountWorkers counts running worker containers host-wide by label. This
// satisfies proc.Counter, so containerized fleets use the docker daemon as
// the system-wide node counter instead of a process-table scan.
func (r *DockerRunner) CountWorkers(ctx context.Context) (int, error) {
	list, err := r.cli.ContainerList(ctx, types.ContainerListOptions{
		Filters: filters.NewArgs(filters.Arg("label", WorkerLabel+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("runner: list worker containers: %w", err)
	}
	return len(list), nil
}
