package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/nodekeeper/config"
	"github.com/use-agent/nodekeeper/models"
	"github.com/use-agent/nodekeeper/pool"
	"github.com/use-agent/nodekeeper/webhook"
)

// ListNodes returns a handler for GET /api/v1/nodes.
func ListNodes(p *pool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"nodes":   p.Nodes(),
		})
	}
}

// SpawnNode returns a handler for POST /api/v1/nodes: add one idle worker,
// respecting the pool's hard maximum.
func SpawnNode(p *pool.Pool, cfg *config.Config, instance string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, err := p.Spawn(c.Request.Context())
		if err != nil {
			var nodeErr *models.NodeError
			code := models.ErrCodeInternal
			status := http.StatusInternalServerError
			if errors.As(err, &nodeErr) {
				code = nodeErr.Code
				if code == models.ErrCodePoolExhausted {
					status = http.StatusConflict
				}
			}

			if cfg.Webhook.URL != "" && code == models.ErrCodeSpawnFailed {
				webhook.DeliverAsync(cfg.Webhook.URL, cfg.Webhook.Secret, &webhook.Event{
					Type:      "node.spawn_failed",
					Instance:  instance,
					Timestamp: time.Now().Unix(),
					Data:      gin.H{"error": err.Error()},
				})
			}

			c.JSON(status, models.SpawnResponse{
				Success: false,
				Error:   &models.ErrorDetail{Code: code, Message: err.Error()},
			})
			return
		}

		info := h.Info()
		c.JSON(http.StatusCreated, models.SpawnResponse{
			Success: true,
			Node:    &info,
		})
	}
}
