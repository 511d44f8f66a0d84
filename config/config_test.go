package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Server.Port != 8790 {
		t.Errorf("Server.Port = %d, want 8790", cfg.Server.Port)
	}
	if cfg.Pool.MinNodes != 2 || cfg.Pool.HardMax != 8 {
		t.Errorf("Pool defaults = %+v, want MinNodes=2 HardMax=8", cfg.Pool)
	}
	if !cfg.Reuse.Enabled {
		t.Error("Reuse.Enabled should default to true")
	}
	if cfg.Runner.Mode != "exec" {
		t.Errorf("Runner.Mode = %q, want %q", cfg.Runner.Mode, "exec")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NODEKEEPER_PORT", "9001")
	t.Setenv("NODEKEEPER_REUSE_ENABLED", "false")
	t.Setenv("NODEKEEPER_REUSE_THRESHOLD", "6")
	t.Setenv("NODEKEEPER_COUNT_TTL", "500ms")
	t.Setenv("NODEKEEPER_API_KEYS", "alpha, beta ,gamma")

	cfg := Load()

	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Reuse.Enabled {
		t.Error("Reuse.Enabled should be overridden to false")
	}
	if cfg.Reuse.Threshold != 6 {
		t.Errorf("Reuse.Threshold = %d, want 6", cfg.Reuse.Threshold)
	}
	if cfg.Reuse.CountTTL != 500*time.Millisecond {
		t.Errorf("Reuse.CountTTL = %v, want 500ms", cfg.Reuse.CountTTL)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(cfg.Auth.APIKeys) != len(want) {
		t.Fatalf("Auth.APIKeys = %v, want %v", cfg.Auth.APIKeys, want)
	}
	for i := range want {
		if cfg.Auth.APIKeys[i] != want[i] {
			t.Errorf("Auth.APIKeys[%d] = %q, want %q", i, cfg.Auth.APIKeys[i], want[i])
		}
	}
}

func TestLoad_MalformedEnvFallsBack(t *testing.T) {
	t.Setenv("NODEKEEPER_PORT", "not-a-port")
	t.Setenv("NODEKEEPER_MEM_THRESHOLD", "lots")

	cfg := Load()
	if cfg.Server.Port != 8790 {
		t.Errorf("malformed port should fall back, got %d", cfg.Server.Port)
	}
	if cfg.Pool.MemThreshold != 0.9 {
		t.Errorf("malformed threshold should fall back, got %v", cfg.Pool.MemThreshold)
	}
}

func TestEffectiveThreshold(t *testing.T) {
	if got := (ReuseConfig{Threshold: 6}).EffectiveThreshold(); got != 6 {
		t.Errorf("explicit threshold: got %d, want 6", got)
	}
	if got := (ReuseConfig{Threshold: -1}).EffectiveThreshold(); got != -1 {
		t.Errorf("negative threshold passes through to disable reuse, got %d", got)
	}
	if got := (ReuseConfig{}).EffectiveThreshold(); got < 1 {
		t.Errorf("unset threshold uses the host default, got %d", got)
	}
}
