package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spendwise/spendwise-auth/internal/middleware"
	"github.com/spendwise/spendwise-auth/pkg/auth/keyset"
)

// jwksAdminController exposes the key-set cache of the configured bearer
// endpoint to operators.
type jwksAdminController struct {
	keys     keyset.Resolver
	endpoint string
}

func NewJWKSAdminController(keys keyset.Resolver, endpoint string) *jwksAdminController {
	return &jwksAdminController{keys: keys, endpoint: endpoint}
}

type jwksKeyView struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg,omitempty"`
	Curve     string `json:"crv,omitempty"`
}

func keySetView(set *keyset.KeySet) gin.H {
	keys := make([]jwksKeyView, 0, len(set.Keys))
	for _, k := range set.Keys {
		keys = append(keys, jwksKeyView{KeyID: k.KeyID, KeyType: k.KeyType, Algorithm: k.Algorithm, Curve: k.Curve})
	}
	return gin.H{"endpoint": set.Endpoint, "fetchedAt": set.FetchedAt, "keys": keys}
}

// Get returns the cached set, fetching it when absent.
func (h *jwksAdminController) Get(c *gin.Context) {
	set, err := h.keys.Resolve(c.Request.Context(), h.endpoint)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, keySetView(set))
}

// Refresh forces an origin fetch, subject to the refresh throttle.
func (h *jwksAdminController) Refresh(c *gin.Context) {
	set, err := h.keys.Refresh(c.Request.Context(), h.endpoint)
	if err != nil {
		h.fail(c, err)
		return
	}
	middleware.LoggerFrom(c).Info("jwks refreshed by operator", "endpoint", h.endpoint, "keys", len(set.Keys))
	c.JSON(http.StatusOK, keySetView(set))
}

// Invalidate drops the cached set so the next verification refetches it.
func (h *jwksAdminController) Invalidate(c *gin.Context) {
	h.keys.Invalidate(h.endpoint)
	c.Status(http.StatusNoContent)
}

func (h *jwksAdminController) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, keyset.ErrRefreshThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "refresh throttled"})
	default:
		middleware.LoggerFrom(c).Warn("jwks admin fetch failed", "endpoint", h.endpoint, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "key set unavailable"})
	}
}
