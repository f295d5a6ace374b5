package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/research-auth/internal/api/http/handlers"
	"github.com/spec-kit/research-auth/internal/auth"
	"github.com/spec-kit/research-auth/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Users          *handlers.UsersHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
	// RateLimit guards /api/auth; nil leaves it unlimited.
	RateLimit fiber.Handler
	Metrics   nethttp.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	if cfg.RateLimit != nil {
		authGroup.Use(cfg.RateLimit)
	}
	authGroup.Get("/google/url", cfg.Auth.AuthorizeURL)
	authGroup.Post("/google", cfg.Auth.GoogleLogin)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/logout", cfg.Auth.Logout)

	users := api.Group("/users", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	users.Get("/me", cfg.Users.Me)

	if cfg.Admin != nil {
		admin := api.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleSuperAdmin))
		admin.Post("/privileged/reload", cfg.Admin.ReloadPrivileged)
	}
}
