package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spendwise/spendwise-auth/internal/middleware"
)

type meController struct{}

func NewMeController() *meController {
	return &meController{}
}

// Handle echoes the verified claim set. It must be mounted behind an auth
// middleware.
func (h *meController) Handle(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "missing_claims"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": claims})
}
