// Package pool manages one build instance's set of persistent worker
// nodes: spawning them through a runner, handing them to builds, retiring
// unhealthy ones, and trimming the pool at end of build per the
// reuse-threshold policy.
package pool

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/nodekeeper/models"
	"github.com/use-agent/nodekeeper/policy"
	"github.com/use-agent/nodekeeper/runner"
)

// Config holds pool sizing and scaling knobs.
type Config struct {
	// MinNodes is the number of nodes kept warm.
	MinNodes int

	// HardMax is the absolute maximum this instance will hold.
	HardMax int

	// MemThreshold is the heap memory fraction (0.0-1.0) above which the
	// pool shrinks.
	MemThreshold float64

	// ScaleStep is the fraction of pool size to grow or shrink per
	// scaling interval.
	ScaleStep float64

	// StopTimeout bounds how long a single node termination may take.
	StopTimeout time.Duration

	// OnRetire, when set, is called after a node is terminated, with the
	// reason ("unhealthy", "trim", "dead", "shrink", "shutdown").
	OnRetire func(info models.NodeInfo, reason string)
}

// Pool is safe for concurrent use by the build engine and the API.
type Pool struct {
	cfg Config
	run runner.Runner
	pol *policy.Policy

	idle    chan *Handle
	mu      sync.Mutex
	all     map[string]*Handle
	active  atomic.Int32
	stopped chan struct{}
}

// New creates and starts a pool, pre-spawning MinNodes workers.
func New(ctx context.Context, cfg Config, run runner.Runner, pol *policy.Policy) (*Pool, error) {
	if cfg.MinNodes < 0 {
		cfg.MinNodes = 0
	}
	if cfg.HardMax < 1 {
		cfg.HardMax = 1
	}
	if cfg.HardMax < cfg.MinNodes {
		cfg.HardMax = cfg.MinNodes
	}
	if cfg.MemThreshold <= 0 {
		cfg.MemThreshold = 0.9
	}
	if cfg.ScaleStep <= 0 {
		cfg.ScaleStep = 0.05
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 15 * time.Second
	}

	p := &Pool{
		cfg:     cfg,
		run:     run,
		pol:     pol,
		idle:    make(chan *Handle, cfg.HardMax),
		all:     make(map[string]*Handle),
		stopped: make(chan struct{}),
	}

	for i := 0; i < cfg.MinNodes; i++ {
		h, err := p.create(ctx)
		if err != nil {
			slog.Warn("pool: failed to pre-spawn worker", "error", err)
			continue
		}
		p.idle <- h
	}

	go p.scalingLoop()
	return p, nil
}

// Acquire checks out a worker node. It prefers an idle node, spawns a new
// one when under the hard max, and otherwise blocks until a node is
// released or ctx is done. Dead idle nodes found on the way are replaced
// transparently.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	for {
		// Try non-blocking first.
		select {
		case h := <-p.idle:
			if p.checkout(h) {
				return h, nil
			}
			continue
		default:
		}

		// Try to spawn a new node if under hard max.
		p.mu.Lock()
		if len(p.all) < p.cfg.HardMax {
			h, err := p.createLocked(ctx)
			p.mu.Unlock()
			if err == nil {
				h.setBusy(true)
				p.active.Add(1)
				return h, nil
			}
			slog.Warn("pool: spawn during acquire failed, waiting for a release", "error", err)
		} else {
			p.mu.Unlock()
		}

		// Block until one becomes available.
		select {
		case h := <-p.idle:
			if p.checkout(h) {
				return h, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// checkout marks an idle handle busy, unless its worker died while idle,
// in which case the handle is destroyed and false returned.
func (p *Pool) checkout(h *Handle) bool {
	if !p.run.Alive(h.Worker) {
		slog.Warn("pool: idle worker died, replacing", "node", h.ID, "pid", h.Worker.PID)
		p.destroy(h, "dead")
		return false
	}
	h.setBusy(true)
	p.active.Add(1)
	return true
}

// Release returns a node to the pool. Unhealthy nodes are terminated and,
// when the pool would drop below its floor, replaced with a fresh spawn.
func (p *Pool) Release(h *Handle, success bool) {
	p.active.Add(-1)
	h.setBusy(false)

	if success {
		h.RecordSuccess()
	} else {
		h.RecordFailure()
	}

	if h.ShouldRetire() {
		slog.Debug("pool: retiring unhealthy worker", "node", h.ID, "useCount", h.useCount)
		p.destroy(h, "unhealthy")

		p.mu.Lock()
		if len(p.all) < p.cfg.MinNodes {
			if newH, err := p.createLocked(context.Background()); err == nil {
				p.mu.Unlock()
				p.idle <- newH
				return
			}
		}
		p.mu.Unlock()
		return
	}

	p.idle <- h
}

// Spawn adds one idle node, respecting the hard max. Used by the API.
func (p *Pool) Spawn(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if len(p.all) >= p.cfg.HardMax {
		p.mu.Unlock()
		return nil, models.NewNodeError(models.ErrCodePoolExhausted, "pool is at its hard maximum", nil)
	}
	h, err := p.createLocked(ctx)
	p.mu.Unlock()
	if err != nil {
		return nil, models.NewNodeError(models.ErrCodeSpawnFailed, "failed to start worker", err)
	}
	p.idle <- h
	return h, nil
}

// Size returns the total number of live nodes.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// ActiveCount returns the number of currently checked-out nodes.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// Stats snapshots the pool for API responses.
func (p *Pool) Stats() models.PoolStats {
	live := p.Size()
	busy := p.ActiveCount()
	if busy > live {
		busy = live
	}
	return models.PoolStats{
		MinNodes:  p.cfg.MinNodes,
		HardMax:   p.cfg.HardMax,
		LiveNodes: live,
		BusyNodes: busy,
		IdleNodes: live - busy,
	}
}

// Nodes lists this instance's workers in keep-priority order: busy nodes
// first, then idle nodes most-recently-used first. This is the same order
// TrimForReuse maps onto the policy's decision sequence.
func (p *Pool) Nodes() []models.NodeInfo {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.all))
	for _, h := range p.all {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	infos := make([]models.NodeInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Busy != infos[j].Busy {
			return infos[i].Busy
		}
		return infos[i].LastUsed.After(infos[j].LastUsed)
	})
	return infos
}

// Stop terminates every node and halts the scaling loop. Used when the
// manager shuts down without leaving survivors.
func (p *Pool) Stop() {
	close(p.stopped)

	// Drain idle channel.
drainLoop:
	for {
		select {
		case h := <-p.idle:
			p.destroy(h, "shutdown")
		default:
			break drainLoop
		}
	}

	// Terminate any remaining tracked nodes.
	p.mu.Lock()
	remaining := make([]*Handle, 0, len(p.all))
	for id, h := range p.all {
		remaining = append(remaining, h)
		delete(p.all, id)
	}
	p.mu.Unlock()
	for _, h := range remaining {
		p.stopWorker(h, "shutdown")
	}
}

// create spawns a node (acquires lock internally).
func (p *Pool) create(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createLocked(ctx)
}

// createLocked spawns a node. Caller must hold p.mu.
func (p *Pool) createLocked(ctx context.Context) (*Handle, error) {
	w, err := p.run.Start(ctx)
	if err != nil {
		return nil, err
	}
	h := newHandle(uuid.NewString(), w)
	p.all[h.ID] = h
	slog.Info("pool: worker started", "node", h.ID, "pid", w.PID, "container", w.ContainerID)
	return h, nil
}

// destroy removes a node from tracking and terminates its process.
func (p *Pool) destroy(h *Handle, reason string) {
	p.mu.Lock()
	delete(p.all, h.ID)
	p.mu.Unlock()
	p.stopWorker(h, reason)
}

func (p *Pool) stopWorker(h *Handle, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StopTimeout)
	defer cancel()
	if err := p.run.Stop(ctx, h.Worker); err != nil {
		slog.Warn("pool: failed to stop worker", "node", h.ID, "reason", reason, "error", err)
	} else {
		slog.Info("pool: worker terminated", "node", h.ID, "reason", reason)
	}
	if p.cfg.OnRetire != nil {
		p.cfg.OnRetire(h.Info(), reason)
	}
}

// scalingLoop periodically samples memory and adjusts pool size.
func (p *Pool) scalingLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopped:
			return
		case <-ticker.C:
			p.scaleCheck()
		}
	}
}

func (p *Pool) scaleCheck() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Estimate memory pressure as HeapInuse / HeapSys.
	var memPressure float64
	if m.HeapSys > 0 {
		memPressure = float64(m.HeapInuse) / float64(m.HeapSys)
	}

	totalSize := p.Size()
	active := p.ActiveCount()
	var activeRate float64
	if totalSize > 0 {
		activeRate = float64(active) / float64(totalSize)
	}

	if memPressure > p.cfg.MemThreshold {
		// Shrink: terminate some idle nodes.
		shrinkCount := int(math.Ceil(float64(totalSize) * p.cfg.ScaleStep))
		for i := 0; i < shrinkCount; i++ {
			if p.Size() <= p.cfg.MinNodes {
				break
			}
			select {
			case h := <-p.idle:
				slog.Debug("pool: shrinking under memory pressure", "node", h.ID)
				p.destroy(h, "shrink")
			default:
				// No idle nodes to shrink.
				return
			}
		}
	} else if activeRate > 0.8 {
		// Grow: spawn nodes if under hard max.
		growCount := int(math.Ceil(float64(totalSize) * p.cfg.ScaleStep))
		for i := 0; i < growCount; i++ {
			p.mu.Lock()
			if len(p.all) >= p.cfg.HardMax {
				p.mu.Unlock()
				break
			}
			h, err := p.createLocked(context.Background())
			p.mu.Unlock()
			if err != nil {
				slog.Warn("pool: failed to grow", "error", err)
				break
			}
			slog.Debug("pool: grew pool", "node", h.ID)
			p.idle <- h
		}
	}
}
