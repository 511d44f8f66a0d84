// Package policy implements the reuse-threshold decision: which of a build
// instance's worker nodes may stay alive for the next build, given how many
// worker processes are already running host-wide.
package policy

import (
	"context"
	"runtime"
)

// CountFunc reports the number of worker nodes currently alive on the host,
// across all build instances (including the caller's own). The snapshot may
// be stale or racy; the decision clamps rather than trusting it.
type CountFunc func(ctx context.Context) int

// ThresholdFunc returns the target cap on live worker nodes host-wide.
// Values <= 0 mean no node may be reused.
type ThresholdFunc func() int

// Policy decides, per node, whether a build instance keeps it alive after a
// build finishes. The two collaborators are injected so tests (and the
// docker-backed deployment) can substitute them freely.
type Policy struct {
	countNodes CountFunc
	threshold  ThresholdFunc
}

// New creates a Policy. A nil threshold falls back to DefaultThreshold; a
// nil counter counts zero, which limits reuse only by the threshold itself.
func New(count CountFunc, threshold ThresholdFunc) *Policy {
	if count == nil {
		count = func(context.Context) int { return 0 }
	}
	if threshold == nil {
		threshold = DefaultThreshold
	}
	return &Policy{countNodes: count, threshold: threshold}
}

// Decide returns one keep/terminate decision per node: true means keep the
// node alive for reuse, false means terminate it.
//
// The slice always has length nodeCount and is prefix-true: every kept
// position precedes every terminated one. Callers order their nodes so the
// ones most worth keeping come first; the decision itself treats nodes as
// interchangeable.
func (p *Policy) Decide(ctx context.Context, nodeCount int, reuseEnabled bool) []bool {
	if nodeCount <= 0 {
		return []bool{}
	}

	decision := make([]bool, nodeCount)
	if !reuseEnabled {
		return decision
	}

	systemWide := p.countNodes(ctx)
	threshold := p.threshold()

	// Nodes held by all other build instances. A racy snapshot can report
	// fewer nodes than we ourselves hold; clamp instead of going negative.
	otherNodes := systemWide - nodeCount
	if otherNodes < 0 {
		otherNodes = 0
	}

	// How many of our own nodes fit under the host-wide cap once the other
	// instances' nodes are accounted for.
	allowed := threshold - otherNodes
	if allowed < 0 {
		allowed = 0
	}

	keep := nodeCount
	if allowed < keep {
		keep = allowed
	}

	for i := 0; i < keep; i++ {
		decision[i] = true
	}
	return decision
}

// KeepCount is Decide reduced to the number of kept nodes. Handy for
// logging and for callers that only trim counts.
func (p *Policy) KeepCount(ctx context.Context, nodeCount int, reuseEnabled bool) int {
	n := 0
	for _, keep := range p.Decide(ctx, nodeCount, reuseEnabled) {
		if keep {
			n++
		}
	}
	return n
}

// DefaultThreshold caps live worker nodes at half the logical cores, with a
// floor of 1 so reuse is never structurally disabled on small hosts.
func DefaultThreshold() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}
