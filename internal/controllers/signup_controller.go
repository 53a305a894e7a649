package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spendwise/spendwise-auth/internal/identity"
	"github.com/spendwise/spendwise-auth/internal/middleware"
)

type signupController struct{ authn identity.Authenticator }

func NewSignupController(authn identity.Authenticator) *signupController {
	return &signupController{authn: authn}
}

func (h *signupController) Handle(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing email or password"})
		return
	}

	res, err := h.authn.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if identity.IsProviderError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": providerMessage(err, "Signup failed")})
			return
		}
		middleware.LoggerFrom(c).Error("signup failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Signup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Signup successful!",
		"username":  res.Username,
		"confirmed": res.Confirmed,
	})
}
