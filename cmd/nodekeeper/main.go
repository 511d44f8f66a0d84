package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/nodekeeper/api"
	"github.com/use-agent/nodekeeper/config"
	"github.com/use-agent/nodekeeper/models"
	"github.com/use-agent/nodekeeper/policy"
	"github.com/use-agent/nodekeeper/pool"
	"github.com/use-agent/nodekeeper/proc"
	"github.com/use-agent/nodekeeper/runner"
	"github.com/use-agent/nodekeeper/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)

	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = fmt.Sprintf("nodekeeper-%d", os.Getpid())
	}

	slog.Info("nodekeeper starting",
		"instance", instance,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"runner", cfg.Runner.Mode,
		"minNodes", cfg.Pool.MinNodes,
		"hardMax", cfg.Pool.HardMax,
		"reuseEnabled", cfg.Reuse.Enabled,
		"reuseThreshold", cfg.Reuse.EffectiveThreshold(),
	)

	// ── 3. Initialise runner and system-wide counter ────────────────
	run, counter, err := buildRunner(cfg)
	if err != nil {
		slog.Error("failed to initialise worker runner", "error", err)
		os.Exit(1)
	}
	cached := proc.NewCachedCounter(counter, cfg.Reuse.CountTTL)

	// ── 4. Wire the reuse policy ────────────────────────────────────
	// Decisions force a fresh scan; a failed scan counts as zero other
	// nodes rather than failing the build's teardown.
	countFn := func(ctx context.Context) int {
		n, err := cached.Refresh(ctx)
		if err != nil {
			slog.Warn("system-wide node count failed, assuming zero", "error", err)
			return 0
		}
		return n
	}
	pol := policy.New(countFn, cfg.Reuse.EffectiveThreshold)

	// ── 5. Start the node pool ──────────────────────────────────────
	poolCfg := pool.Config{
		MinNodes:     cfg.Pool.MinNodes,
		HardMax:      cfg.Pool.HardMax,
		MemThreshold: cfg.Pool.MemThreshold,
		ScaleStep:    cfg.Pool.ScaleStep,
		StopTimeout:  cfg.Runner.StopGrace + 10*time.Second,
	}
	if cfg.Webhook.URL != "" {
		poolCfg.OnRetire = func(info models.NodeInfo, reason string) {
			webhook.DeliverAsync(cfg.Webhook.URL, cfg.Webhook.Secret, &webhook.Event{
				Type:      "node.retired",
				Instance:  instance,
				Timestamp: time.Now().Unix(),
				Data:      map[string]any{"node": info, "reason": reason},
			})
		}
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	p, err := pool.New(startCtx, poolCfg, run, pol)
	cancelStart()
	if err != nil {
		slog.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// ── 6. Setup router and HTTP server ─────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(p, cached, cfg, instance, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Final reuse decision: when reuse is on, workers that fit under the
	// host-wide threshold outlive the manager so the next build instance
	// can adopt warm processes. When off, everything is torn down.
	if cfg.Reuse.Enabled {
		trimCtx, cancelTrim := context.WithTimeout(context.Background(), 30*time.Second)
		res := p.TrimForReuse(trimCtx, true)
		cancelTrim()
		slog.Info("final reuse trim", "kept", res.Kept, "terminated", res.Terminated)
	} else {
		p.Stop()
	}

	slog.Info("nodekeeper stopped")
}

// buildRunner constructs the configured runner backend and the matching
// system-wide counter. Containerized fleets count labeled containers via
// the docker daemon; plain-process fleets scan the host process table.
func buildRunner(cfg *config.Config) (runner.Runner, proc.Counter, error) {
	switch cfg.Runner.Mode {
	case "docker":
		dr, err := runner.NewDockerRunner(cfg.Runner.Image, cfg.Runner.WorkerArgs, cfg.Runner.StopGrace)
		if err != nil {
			return nil, nil, err
		}
		return dr, dr, nil
	default:
		er := runner.NewExecRunner(cfg.Runner.WorkerBin, cfg.Runner.WorkerArgs, cfg.Runner.StopGrace)
		return er, proc.NewScanCounter(), nil
	}
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
