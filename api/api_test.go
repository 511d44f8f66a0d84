package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/nodekeeper/config"
	"github.com/use-agent/nodekeeper/models"
	"github.com/use-agent/nodekeeper/policy"
	"github.com/use-agent/nodekeeper/pool"
	"github.com/use-agent/nodekeeper/runner"
)

// stubRunner hands out fake workers without touching real processes.
type stubRunner struct {
	mu      sync.Mutex
	nextPID int
	dead    map[int]bool
}

func (s *stubRunner) Start(context.Context) (*runner.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	return &runner.Worker{PID: s.nextPID, StartedAt: time.Now()}, nil
}

func (s *stubRunner) Stop(_ context.Context, w *runner.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[w.PID] = true
	return nil
}

func (s *stubRunner) Alive(w *runner.Worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead[w.PID]
}

// stubCounter is a proc.Counter with a fixed value.
type stubCounter struct{ n int }

func (s stubCounter) CountWorkers(context.Context) (int, error) { return s.n, nil }

func newTestServer(t *testing.T, minNodes, systemWide, threshold int) (*httptest.Server, *pool.Pool) {
	t.Helper()

	cfg := config.Load()
	cfg.Server.Mode = "test"
	cfg.Auth.Enabled = false
	cfg.Reuse.Enabled = true
	cfg.Reuse.Threshold = threshold

	counter := stubCounter{n: systemWide}
	pol := policy.New(
		func(ctx context.Context) int {
			n, _ := counter.CountWorkers(ctx)
			return n
		},
		cfg.Reuse.EffectiveThreshold,
	)

	p, err := pool.New(context.Background(), pool.Config{MinNodes: minNodes, HardMax: 4}, &stubRunner{dead: make(map[int]bool)}, pol)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(p.Stop)

	srv := httptest.NewServer(NewRouter(p, counter, cfg, "test-instance", time.Now()))
	t.Cleanup(srv.Close)
	return srv, p
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 1, 0, 4)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var hr models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hr.Status != "healthy" {
		t.Errorf("status = %q, want healthy", hr.Status)
	}
	if hr.PoolStats.LiveNodes != 1 {
		t.Errorf("live nodes = %d, want 1", hr.PoolStats.LiveNodes)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 2, 6, 4)

	resp, err := http.Get(srv.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var sr models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sr.SystemWideNodes != 6 {
		t.Errorf("system_wide_nodes = %d, want 6", sr.SystemWideNodes)
	}
	if sr.ReuseThreshold != 4 {
		t.Errorf("reuse_threshold = %d, want 4", sr.ReuseThreshold)
	}
	if len(sr.Nodes) != 2 {
		t.Errorf("nodes = %d, want 2", len(sr.Nodes))
	}
}

func TestTrimEndpoint(t *testing.T) {
	// 3 own nodes, 6 host-wide, cap 4: other instances hold 3, so exactly
	// one node survives.
	srv, p := newTestServer(t, 3, 6, 4)

	resp, err := http.Post(srv.URL+"/api/v1/trim", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /trim: %v", err)
	}
	defer resp.Body.Close()

	var tr models.TrimResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !tr.Success {
		t.Fatalf("trim failed: %+v", tr.Error)
	}
	if tr.NodeCount != 3 || tr.Kept != 1 || tr.Terminated != 2 {
		t.Errorf("trim = %+v, want NodeCount=3 Kept=1 Terminated=2", tr)
	}
	if p.Size() != 1 {
		t.Errorf("pool size after trim = %d, want 1", p.Size())
	}
}

func TestTrimEndpoint_ReuseOverride(t *testing.T) {
	srv, p := newTestServer(t, 2, 0, 100)

	body := strings.NewReader(`{"reuse_enabled": false}`)
	resp, err := http.Post(srv.URL+"/api/v1/trim", "application/json", body)
	if err != nil {
		t.Fatalf("POST /trim: %v", err)
	}
	defer resp.Body.Close()

	var tr models.TrimResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.Kept != 0 || tr.Terminated != 2 {
		t.Errorf("override trim = %+v, want Kept=0 Terminated=2", tr)
	}
	if p.Size() != 0 {
		t.Errorf("pool size = %d, want 0", p.Size())
	}
}

func TestSpawnEndpoint_HardMax(t *testing.T) {
	srv, _ := newTestServer(t, 4, 0, 100)

	resp, err := http.Post(srv.URL+"/api/v1/nodes", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /nodes: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("spawn at hard max: status = %d, want 409", resp.StatusCode)
	}
	var sr models.SpawnResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sr.Error == nil || sr.Error.Code != models.ErrCodePoolExhausted {
		t.Errorf("error = %+v, want code %s", sr.Error, models.ErrCodePoolExhausted)
	}
}

func TestSpawnEndpoint(t *testing.T) {
	srv, p := newTestServer(t, 0, 0, 100)

	resp, err := http.Post(srv.URL+"/api/v1/nodes", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /nodes: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var sr models.SpawnResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sr.Node == nil || sr.Node.ID == "" {
		t.Errorf("spawn response missing node info: %+v", sr)
	}
	if p.Size() != 1 {
		t.Errorf("pool size = %d, want 1", p.Size())
	}
}

func TestAuth_Required(t *testing.T) {
	cfg := config.Load()
	cfg.Server.Mode = "test"
	cfg.Auth.Enabled = true
	cfg.Auth.APIKeys = []string{"sekrit"}

	pol := policy.New(nil, nil)
	p, err := pool.New(context.Background(), pool.Config{MinNodes: 0, HardMax: 1}, &stubRunner{dead: make(map[int]bool)}, pol)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(p.Stop)

	srv := httptest.NewServer(NewRouter(p, stubCounter{}, cfg, "test-instance", time.Now()))
	t.Cleanup(srv.Close)

	// Health stays open.
	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	// Status requires a key.
	resp, err = http.Get(srv.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/status", nil)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /status with key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}
}
