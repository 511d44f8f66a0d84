package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/nodekeeper/config"
	"github.com/use-agent/nodekeeper/models"
	"github.com/use-agent/nodekeeper/pool"
	"github.com/use-agent/nodekeeper/proc"
)

// Status returns a handler for GET /api/v1/status.
//
// The system-wide count comes through the TTL cache; a failed scan is
// reported as stale rather than failing the whole request, since the rest
// of the snapshot is still useful.
func Status(p *pool.Pool, counter proc.Counter, reuse config.ReuseConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		systemWide, err := counter.CountWorkers(c.Request.Context())
		stale := false
		if err != nil {
			slog.Warn("status: system-wide count failed", "error", err)
			systemWide = 0
			stale = true
		}

		c.JSON(http.StatusOK, models.StatusResponse{
			Pool:            p.Stats(),
			Nodes:           p.Nodes(),
			SystemWideNodes: systemWide,
			CountStale:      stale,
			ReuseThreshold:  reuse.EffectiveThreshold(),
			ReuseEnabled:    reuse.Enabled,
		})
	}
}
