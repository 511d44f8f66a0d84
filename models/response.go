package models

import "time"

// PoolStats reports the state of one manager instance's worker-node pool.
type PoolStats struct {
	// MinNodes is the configured pool floor.
	MinNodes int `json:"min_nodes"`

	// HardMax is the configured absolute maximum.
	HardMax int `json:"hard_max"`

	// LiveNodes is the number of worker processes this instance owns.
	LiveNodes int `json:"live_nodes"`

	// BusyNodes is the number of nodes currently checked out by builds.
	BusyNodes int `json:"busy_nodes"`

	// IdleNodes is LiveNodes minus BusyNodes.
	IdleNodes int `json:"idle_nodes"`
}

// NodeInfo describes one worker node in API responses.
type NodeInfo struct {
	ID          string    `json:"id"`
	PID         int       `json:"pid,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	LastUsed    time.Time `json:"last_used,omitempty"`
	UseCount    int       `json:"use_count"`
	Busy        bool      `json:"busy"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Version   string    `json:"version"`
}

// StatusResponse is the response for GET /api/v1/status.
type StatusResponse struct {
	Pool PoolStats `json:"pool"`

	// Nodes lists this instance's workers, keep-priority order first.
	Nodes []NodeInfo `json:"nodes"`

	// SystemWideNodes is the host-wide live worker count across all build
	// instances, observed at request time.
	SystemWideNodes int `json:"system_wide_nodes"`

	// CountStale indicates the system-wide count could not be refreshed
	// and a cached or zero value is shown instead.
	CountStale bool `json:"count_stale,omitempty"`

	// ReuseThreshold is the effective host-wide cap.
	ReuseThreshold int `json:"reuse_threshold"`

	// ReuseEnabled reflects the instance-level reuse switch.
	ReuseEnabled bool `json:"reuse_enabled"`
}

// TrimRequest is the body for POST /api/v1/trim.
type TrimRequest struct {
	// ReuseEnabled overrides the configured reuse switch for this trim
	// only. Omitted means "use the configured value".
	ReuseEnabled *bool `json:"reuse_enabled,omitempty"`
}

// TrimResponse is the response for POST /api/v1/trim.
type TrimResponse struct {
	Success bool `json:"success"`

	// NodeCount is the live node count the decision was made over.
	NodeCount int `json:"node_count"`

	// SystemWideNodes is the host-wide count the decision observed.
	SystemWideNodes int `json:"system_wide_nodes"`

	// ReuseThreshold is the cap the decision applied.
	ReuseThreshold int `json:"reuse_threshold"`

	// Kept and Terminated partition the instance's nodes.
	Kept       int `json:"kept"`
	Terminated int `json:"terminated"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// SpawnResponse is the response for POST /api/v1/nodes.
type SpawnResponse struct {
	Success bool         `json:"success"`
	Node    *NodeInfo    `json:"node,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorResponse is the generic failure envelope for endpoints without a
// richer response type.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error,omitempty"`
}
