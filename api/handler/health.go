package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/nodekeeper/models"
	"github.com/use-agent/nodekeeper/pool"
)

// Version reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of the hard
// maximum is busy.
func Health(p *pool.Pool, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := p.Stats()

		status := "healthy"
		if stats.HardMax > 0 && stats.BusyNodes > int(float64(stats.HardMax)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    status,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			PoolStats: stats,
			Version:   Version,
		})
	}
}
