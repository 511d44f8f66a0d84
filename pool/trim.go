package pool

import (
	"context"
	"log/slog"
	"sort"
)

// TrimResult summarises one end-of-build trim.
type TrimResult struct {
	// NodeCount is the live node count the decision was made over.
	NodeCount int

	// Kept and Terminated partition the instance's nodes after the trim.
	Kept       int
	Terminated int
}

// TrimForReuse applies the reuse-threshold decision to the pool. Called
// when a build finishes, or whenever the caller wants the pool squeezed
// back under the host-wide cap.
//
// The decision sequence is prefix-true, so ordering matters: busy nodes
// take the head positions (a node mid-build is never terminated), followed
// by idle nodes most-recently-used first, so the warmest workers survive a
// partial trim.
func (p *Pool) TrimForReuse(ctx context.Context, reuseEnabled bool) TrimResult {
	// Pull every currently idle node out of circulation for the decision.
	idle := p.drainIdle()
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].LastUsed().After(idle[j].LastUsed())
	})

	total := p.Size()
	busy := total - len(idle)
	if busy < 0 {
		busy = 0
	}

	decision := p.pol.Decide(ctx, total, reuseEnabled)
	keep := 0
	for _, k := range decision {
		if k {
			keep++
		}
	}

	// Busy nodes consume keep positions first; if the decision keeps fewer
	// nodes than are busy, the excess resolves at the next trim once those
	// nodes go idle.
	keepIdle := keep - busy
	if keepIdle < 0 {
		keepIdle = 0
	}
	if keepIdle > len(idle) {
		keepIdle = len(idle)
	}

	for i, h := range idle {
		if i < keepIdle {
			p.idle <- h
		} else {
			p.destroy(h, "trim")
		}
	}

	res := TrimResult{
		NodeCount:  total,
		Kept:       busy + keepIdle,
		Terminated: len(idle) - keepIdle,
	}
	slog.Info("pool: reuse trim applied",
		"nodes", res.NodeCount,
		"busy", busy,
		"kept", res.Kept,
		"terminated", res.Terminated,
		"reuseEnabled", reuseEnabled,
	)
	return res
}

// drainIdle empties the idle channel without blocking.
func (p *Pool) drainIdle() []*Handle {
	var idle []*Handle
	for {
		select {
		case h := <-p.idle:
			idle = append(idle, h)
		default:
			return idle
		}
	}
}
