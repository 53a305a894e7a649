package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spendwise/spendwise-auth/internal/identity"
	"github.com/spendwise/spendwise-auth/internal/middleware"
)

type loginController struct{ authn identity.Authenticator }

func NewLoginController(authn identity.Authenticator) *loginController {
	return &loginController{authn: authn}
}

func (h *loginController) Handle(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing email or password"})
		return
	}

	tok, err := h.authn.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrNewPasswordRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": "New password required."})
		return
	case identity.IsProviderError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": providerMessage(err, "Login failed")})
		return
	default:
		middleware.LoggerFrom(c).Error("login failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Login successful",
		"idToken":      tok.IDToken,
		"accessToken":  tok.AccessToken,
		"refreshToken": tok.RefreshToken,
		"expiresIn":    tok.ExpiresIn,
		"userId":       tok.UserID,
	})
}

func providerMessage(err error, fallback string) string {
	var typed *identity.Error
	if errors.As(err, &typed) && typed.Message != "" {
		return typed.Message
	}
	return fallback
}
