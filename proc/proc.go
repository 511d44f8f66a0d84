// Package proc counts live build worker processes host-wide. Workers are
// recognised by a marker token in their command line, so every build
// instance's manager arrives at the same count from the same process
// table without any cross-instance coordination.
package proc

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// MarkerToken appears in every worker process's argv. The scan counter
	// matches on it; keep it out of any other binary's command line.
	MarkerToken = "nodekeeper-worker"

	// MarkerEnv is set in every worker's environment. Workers use it to
	// confirm they were launched by a manager rather than by hand.
	MarkerEnv = "NODEKEEPER_WORKER"
)

// Counter reports the number of worker processes alive on the host across
// all build instances. Implementations read live OS state; the result is a
// snapshot and may be stale by the time the caller acts on it.
type Counter interface {
	CountWorkers(ctx context.Context) (int, error)
}

// ScanCounter counts workers by walking the host process table and matching
// the marker token against each process's command line.
type ScanCounter struct {
	token string
}

// NewScanCounter returns a ScanCounter matching MarkerToken.
func NewScanCounter() *ScanCounter {
	return &ScanCounter{token: MarkerToken}
}

// CountWorkers enumerates host processes and counts those carrying the
// marker token. Processes that disappear or deny access mid-scan are
// skipped, not errors: the scan races against process churn by nature.
func (s *ScanCounter) CountWorkers(ctx context.Context) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("proc: enumerate processes: %w", err)
	}

	count := 0
	for _, p := range procs {
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			continue
		}
		for _, arg := range args {
			if strings.Contains(arg, s.token) {
				count++
				break
			}
		}
	}
	return count, nil
}
