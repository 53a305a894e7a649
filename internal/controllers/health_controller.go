package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by the providers package's Redis health check.
type Pinger func(ctx context.Context) error

type healthController struct{ ping Pinger }

// NewHealthController reports liveness. A nil ping means no dependency is
// checked.
func NewHealthController(ping Pinger) *healthController {
	return &healthController{ping: ping}
}

func (h *healthController) Handle(c *gin.Context) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
