package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/nodekeeper/policy"
)

// Config holds all manager configuration.
type Config struct {
	Server    ServerConfig
	Pool      PoolConfig
	Reuse     ReuseConfig
	Runner    RunnerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Host string // default: "127.0.0.1"
	Port int    // default: 8790
	Mode string // "debug", "release", "test"; default: "release"
}

// PoolConfig controls the worker-node pool sizing.
type PoolConfig struct {
	// MinNodes is the number of nodes kept warm.
	MinNodes int // default: 2

	// HardMax is the absolute maximum this instance will hold.
	HardMax int // default: 8

	// MemThreshold is the heap memory fraction (0.0-1.0) above which the
	// pool shrinks.
	MemThreshold float64 // default: 0.9

	// ScaleStep is the fraction of pool size to grow or shrink per interval.
	ScaleStep float64 // default: 0.05
}

// ReuseConfig controls the end-of-build reuse decision.
type ReuseConfig struct {
	// Enabled is the instance-level reuse switch. When false, every trim
	// terminates every idle node regardless of threshold math.
	Enabled bool // default: true

	// Threshold caps live worker nodes host-wide. Zero means "use the
	// default": half the logical cores, floor 1. Negative disables reuse.
	Threshold int

	// CountTTL is how long a system-wide count snapshot stays fresh for
	// status endpoints. Trims always refresh.
	CountTTL time.Duration // default: 2s
}

// EffectiveThreshold resolves the configured threshold, falling back to the
// host-derived default when unset.
func (r ReuseConfig) EffectiveThreshold() int {
	if r.Threshold != 0 {
		return r.Threshold
	}
	return policy.DefaultThreshold()
}

// RunnerConfig controls how worker processes are launched.
type RunnerConfig struct {
	// Mode selects the backend: "exec" or "docker".
	Mode string // default: "exec"

	// WorkerBin is the worker binary path for exec mode.
	WorkerBin string // default: "nodekeeper-worker"

	// WorkerArgs are extra arguments passed to the worker binary.
	WorkerArgs []string

	// Image is the worker container image for docker mode.
	Image string // default: "nodekeeper-worker:latest"

	// StopGrace is how long Stop waits after the graceful signal before
	// killing the worker.
	StopGrace time.Duration // default: 5s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false (the server binds loopback by default)

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 20

	// Burst is the maximum burst size per API key.
	Burst int // default: 40
}

// WebhookConfig controls event notifications.
type WebhookConfig struct {
	// URL receives node lifecycle events. Empty disables delivery.
	URL string

	// Secret signs event payloads with HMAC-SHA256 when non-empty.
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("NODEKEEPER_HOST", "127.0.0.1"),
			Port: envIntOr("NODEKEEPER_PORT", 8790),
			Mode: envOr("NODEKEEPER_MODE", "release"),
		},
		Pool: PoolConfig{
			MinNodes:     envIntOr("NODEKEEPER_MIN_NODES", 2),
			HardMax:      envIntOr("NODEKEEPER_HARD_MAX", 8),
			MemThreshold: envFloatOr("NODEKEEPER_MEM_THRESHOLD", 0.9),
			ScaleStep:    envFloatOr("NODEKEEPER_SCALE_STEP", 0.05),
		},
		Reuse: ReuseConfig{
			Enabled:   envBoolOr("NODEKEEPER_REUSE_ENABLED", true),
			Threshold: envIntOr("NODEKEEPER_REUSE_THRESHOLD", 0),
			CountTTL:  envDurationOr("NODEKEEPER_COUNT_TTL", 2*time.Second),
		},
		Runner: RunnerConfig{
			Mode:       envOr("NODEKEEPER_RUNNER", "exec"),
			WorkerBin:  envOr("NODEKEEPER_WORKER_BIN", "nodekeeper-worker"),
			WorkerArgs: envSliceOr("NODEKEEPER_WORKER_ARGS", nil),
			Image:      envOr("NODEKEEPER_WORKER_IMAGE", "nodekeeper-worker:latest"),
			StopGrace:  envDurationOr("NODEKEEPER_STOP_GRACE", 5*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("NODEKEEPER_AUTH_ENABLED", false),
			APIKeys: envSliceOr("NODEKEEPER_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("NODEKEEPER_RATE_RPS", 20.0),
			Burst:             envIntOr("NODEKEEPER_RATE_BURST", 40),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("NODEKEEPER_WEBHOOK_URL"),
			Secret: os.Getenv("NODEKEEPER_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("NODEKEEPER_LOG_LEVEL", "info"),
			Format: envOr("NODEKEEPER_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
