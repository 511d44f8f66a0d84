package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/nodekeeper/api/handler"
	"github.com/use-agent/nodekeeper/api/middleware"
	"github.com/use-agent/nodekeeper/config"
	"github.com/use-agent/nodekeeper/pool"
	"github.com/use-agent/nodekeeper/proc"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(p *pool.Pool, counter proc.Counter, cfg *config.Config, instance string, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(p, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Status
	protected.GET("/status", handler.Status(p, counter, cfg.Reuse))

	// Nodes
	protected.GET("/nodes", handler.ListNodes(p))
	protected.POST("/nodes", handler.SpawnNode(p, cfg, instance))

	// Trim — the end-of-build reuse decision.
	protected.POST("/trim", handler.Trim(p, counter, cfg, instance))

	return r
}
