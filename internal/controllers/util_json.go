package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// bindCredentials reads {email,password}. ok is false when the body is not
// JSON or either field is blank.
func bindCredentials(c *gin.Context) (credentialsReq, bool) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	return req, req.Email != "" && req.Password != ""
}
