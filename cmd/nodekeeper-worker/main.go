// nodekeeper-worker is the persistent worker process the manager spawns.
// It carries the marker token in its argv so every manager instance on the
// host counts it, idles until told to stop, and exits cleanly on SIGTERM.
//
// Build work arrives through whatever IPC the build engine layers on top;
// this binary only implements the lifecycle contract.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/nodekeeper/proc"
)

func main() {
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	if os.Getenv(proc.MarkerEnv) == "" {
		slog.Warn("started outside a nodekeeper manager; running anyway",
			"marker", proc.MarkerEnv)
	}

	idleTimeout := time.Duration(0)
	if v := os.Getenv("NODEKEEPER_WORKER_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			idleTimeout = d
		}
	}

	slog.Info("worker ready", "pid", os.Getpid(), "idleTimeout", idleTimeout)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if idleTimeout > 0 {
		select {
		case sig := <-quit:
			slog.Info("worker stopping", "signal", sig.String())
		case <-time.After(idleTimeout):
			// A worker nobody claimed within the timeout reaps itself, so
			// a crashed manager cannot strand processes forever.
			slog.Info("worker idle timeout reached, exiting")
		}
	} else {
		sig := <-quit
		slog.Info("worker stopping", "signal", sig.String())
	}
}
