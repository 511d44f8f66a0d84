package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/nodekeeper/config"
	"github.com/use-agent/nodekeeper/models"
	"github.com/use-agent/nodekeeper/pool"
	"github.com/use-agent/nodekeeper/proc"
	"github.com/use-agent/nodekeeper/webhook"
)

// Trim returns a handler for POST /api/v1/trim: run the end-of-build reuse
// decision now. The body may override the configured reuse switch for this
// trim only.
func Trim(p *pool.Pool, counter proc.Counter, cfg *config.Config, instance string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TrimRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, models.TrimResponse{
					Success: false,
					Error: &models.ErrorDetail{
						Code:    models.ErrCodeInvalidInput,
						Message: "invalid request body: " + err.Error(),
					},
				})
				return
			}
		}

		reuseEnabled := cfg.Reuse.Enabled
		if req.ReuseEnabled != nil {
			reuseEnabled = *req.ReuseEnabled
		}

		res := p.TrimForReuse(c.Request.Context(), reuseEnabled)

		// The trim's decision path refreshed the count; the cache still
		// holds that snapshot for the response.
		systemWide, err := counter.CountWorkers(c.Request.Context())
		if err != nil {
			systemWide = 0
		}

		resp := models.TrimResponse{
			Success:         true,
			NodeCount:       res.NodeCount,
			SystemWideNodes: systemWide,
			ReuseThreshold:  cfg.Reuse.EffectiveThreshold(),
			Kept:            res.Kept,
			Terminated:      res.Terminated,
		}

		if cfg.Webhook.URL != "" {
			webhook.DeliverAsync(cfg.Webhook.URL, cfg.Webhook.Secret, &webhook.Event{
				Type:      "pool.trimmed",
				Instance:  instance,
				Timestamp: time.Now().Unix(),
				Data:      resp,
			})
		}

		c.JSON(http.StatusOK, resp)
	}
}
