package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spendwise/spendwise-auth/internal/controllers"
	"github.com/spendwise/spendwise-auth/internal/middleware"
	"github.com/spendwise/spendwise-auth/internal/providers"
)

const adminGroup = "admin"

func SetupMappings(app *Application) {
	var ping controllers.Pinger
	if app.Redis != nil {
		ping = func(ctx context.Context) error { return providers.Ping(ctx, app.Redis, time.Second) }
	}
	app.Engine.GET("/healthz", controllers.NewHealthController(ping).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := app.Engine.Group("/api/auth")
	bearer := middleware.AuthMiddleware(app.Bearer, app.Config)
	{
		api.GET("/me", bearer, controllers.NewMeController().Handle)

		if app.Identity != nil {
			api.POST("/signup", middleware.RateLimitSignup(app.RateLimiter, app.Config), controllers.NewSignupController(app.Identity).Handle)
			api.POST("/login", middleware.RateLimitLogin(app.RateLimiter, app.Config), controllers.NewLoginController(app.Identity).Handle)
		}
		if app.Session != nil {
			api.GET("/session", middleware.SessionAuthMiddleware(app.Session, app.Config.Auth.SessionCookieName), controllers.NewSessionController().Handle)
		}
	}

	if endpoint := app.Config.BearerJWKSEndpoint(); endpoint != "" {
		jwksAdmin := controllers.NewJWKSAdminController(app.KeySets, endpoint)
		admin := app.Engine.Group("/api/admin/jwks", bearer, middleware.RequireGroup(adminGroup))
		admin.GET("", jwksAdmin.Get)
		admin.POST("/refresh", jwksAdmin.Refresh)
		admin.DELETE("", jwksAdmin.Invalidate)
	}
}
