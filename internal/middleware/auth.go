package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spendwise/spendwise-auth/pkg/auth"
	"github.com/spendwise/spendwise-auth/pkg/config"
)

const (
	ctxUserClaims = "userClaims"
	ctxAuthType   = "authType"
	ctxAuthReject = "authReject"
)

// AuthMiddleware authenticates the Authorization: Bearer header. Every
// rejection is a 401 carrying the error kind, except an unreachable key
// set, which may be configured to answer 503.
func AuthMiddleware(validator auth.Validator, cfg *config.Config) gin.HandlerFunc {
	unavailable := http.StatusUnauthorized
	if cfg != nil && cfg.Auth.KeySetUnavailableStatus == http.StatusServiceUnavailable {
		unavailable = http.StatusServiceUnavailable
	}
	return func(c *gin.Context) {
		claims, err := validateBearer(c.Request.Context(), validator, c.GetHeader("Authorization"))
		if err != nil {
			abortUnauthenticated(c, err, unavailable)
			return
		}
		setUserContext(c, claims, "bearer")
		c.Next()
	}
}

func validateBearer(ctx context.Context, validator auth.Validator, authHeader string) (*auth.Claims, error) {
	token := bearerToken(authHeader)
	if token == "" {
		return nil, auth.NewError(auth.KindMissingToken, errors.New("no bearer token in Authorization header"))
	}
	return validator.Validate(ctx, token)
}

func abortUnauthenticated(c *gin.Context, err error, unavailableStatus int) {
	kind := auth.KindOf(err)
	msg := "unauthorized"
	var typed *auth.Error
	if errors.As(err, &typed) && typed.Message != "" {
		msg = typed.Message
	}
	if kind == "" {
		kind = "unauthorized"
	}

	status := http.StatusUnauthorized
	if kind == auth.KindKeySetUnavailable {
		status = unavailableStatus
	}
	if status == http.StatusUnauthorized {
		if kind == auth.KindMissingToken {
			c.Header("WWW-Authenticate", `Bearer realm="spendwise"`)
		} else {
			c.Header("WWW-Authenticate", `Bearer realm="spendwise", error="invalid_token"`)
		}
	}

	level := slog.LevelDebug
	if auth.IsUpstream(err) {
		level = slog.LevelWarn
	}
	LoggerFrom(c).Log(c.Request.Context(), level, "request not authenticated",
		"kind", string(kind),
		"path", c.Request.URL.Path,
		"err", err,
	)
	c.Set(ctxAuthReject, string(kind))
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": string(kind)})
}

func setUserContext(c *gin.Context, claims *auth.Claims, authType string) {
	c.Set(ctxUserClaims, claims)
	c.Set(ctxAuthType, authType)
}

// GetClaims returns the claims stored by an auth middleware.
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ctxUserClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok && claims != nil
}

// GetAuthType reports which middleware authenticated the request.
func GetAuthType(c *gin.Context) string {
	return c.GetString(ctxAuthType)
}
