package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/spendwise/spendwise-auth/pkg/auth"
)

// SessionAuthMiddleware authenticates the legacy session cookie. It never
// looks at the Authorization header.
func SessionAuthMiddleware(validator auth.Validator, cookieName string) gin.HandlerFunc {
	if strings.TrimSpace(cookieName) == "" {
		cookieName = "token"
	}
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || strings.TrimSpace(token) == "" {
			abortUnauthenticated(c, auth.NewError(auth.KindMissingToken, errors.New("no session cookie")), http.StatusUnauthorized)
			return
		}
		claims, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			abortUnauthenticated(c, err, http.StatusUnauthorized)
			return
		}
		setUserContext(c, claims, "session")
		c.Next()
	}
}
