package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/spendwise/spendwise-auth/internal/metrics"
	"github.com/spendwise/spendwise-auth/internal/ratelimit"
	"github.com/spendwise/spendwise-auth/pkg/config"
)

func RateLimitLogin(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitClientIP(lim, "auth", "login", cfg.AuthRateLimit)
}

func RateLimitSignup(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitClientIP(lim, "auth", "signup", cfg.AuthRateLimit)
}

// rateLimitClientIP keys buckets by client address because these routes
// run before anyone is authenticated.
func rateLimitClientIP(lim ratelimit.Limiter, scope string, operation string, bcfg config.RateLimitConfig) gin.HandlerFunc {
	bucket := ratelimit.Bucket{RequestsPerMinute: bcfg.RequestsPerMinute, BurstSize: bcfg.BurstSize}
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), scope+":"+operation, c.ClientIP(), bucket)
		if err != nil {
			// Fail open to avoid turning Redis hiccups into outages.
			LoggerFrom(c).Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"scope":             scope,
			"operation":         operation,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
