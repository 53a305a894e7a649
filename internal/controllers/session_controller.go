package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spendwise/spendwise-auth/internal/middleware"
)

type sessionController struct{}

func NewSessionController() *sessionController {
	return &sessionController{}
}

func (h *sessionController) Handle(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "missing_claims"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    gin.H{"_id": claims.Subject, "email": claims.Email},
	})
}
