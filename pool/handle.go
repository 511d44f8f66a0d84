package pool

import (
	"math"
	"sync"
	"time"

	"github.com/use-agent/nodekeeper/models"
	"github.com/use-agent/nodekeeper/runner"
)

// Handle wraps one worker node with health tracking metadata.
type Handle struct {
	ID     string
	Worker *runner.Worker

	mu       sync.Mutex
	errScore float64
	useCount int
	lastUsed time.Time
	busy     bool
}

func newHandle(id string, w *runner.Worker) *Handle {
	return &Handle{ID: id, Worker: w}
}

// RecordSuccess decreases the error score (min 0).
func (h *Handle) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	h.lastUsed = time.Now()
	h.errScore = math.Max(0, h.errScore-0.5)
}

// RecordFailure increases the error score.
func (h *Handle) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	h.lastUsed = time.Now()
	h.errScore += 1.0
}

// ShouldRetire returns true if the node should be replaced rather than
// reused, based on its health metrics.
func (h *Handle) ShouldRetire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.errScore >= 3.0 {
		return true
	}
	if h.useCount >= 200 {
		return true
	}
	if time.Since(h.Worker.StartedAt) >= time.Hour {
		return true
	}
	return false
}

// LastUsed returns when the node last finished build work. Zero for nodes
// never handed out.
func (h *Handle) LastUsed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

func (h *Handle) setBusy(busy bool) {
	h.mu.Lock()
	h.busy = busy
	h.mu.Unlock()
}

// Info snapshots the handle for API responses.
func (h *Handle) Info() models.NodeInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return models.NodeInfo{
		ID:          h.ID,
		PID:         h.Worker.PID,
		ContainerID: h.Worker.ContainerID,
		StartedAt:   h.Worker.StartedAt,
		LastUsed:    h.lastUsed,
		UseCount:    h.useCount,
		Busy:        h.busy,
	}
}
