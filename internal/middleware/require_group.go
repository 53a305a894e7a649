package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireGroup lets through only subjects in the given provider group.
func RequireGroup(group string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "missing_claims"})
			return
		}
		if !claims.InGroup(group) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden. " + group + " only", "code": "missing_group"})
			return
		}
		c.Next()
	}
}
