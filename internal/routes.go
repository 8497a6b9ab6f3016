package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "sitealerts/api/v1"
	"sitealerts/internal/config"
	"sitealerts/internal/http"
	"sitealerts/internal/http/middleware"
)

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// Monitored sites report from their own origins, so the ingestion API is open.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, User-Agent, X-Forwarded-User-Agent",
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()

	// Helper to conditionally apply rate limiting (only in production)
	// In development/test, rate limiting would interfere with testing
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Rate limiter for the public ingestion API. A busy monitored site
	// reports every pageview, so the ceiling is generous.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(300),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Stricter rate limiter for the admin API; credentials are tried here.
	adminRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(60),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Public ingestion config: rate limiting + permissive CORS. Reports
	// arrive server-to-server, so Sec-Fetch-Site validation is disabled.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		WriteConcurrency:   false,
		CustomMiddleware:   []fiber.Handler{publicRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	logger := srv.GetLogger()
	adminAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			adminRateLimiter,
			middleware.AdminBasicAuth(cfg, logger),
		},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// === ROOT ROUTES ===

	// Health check endpoint
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC API ROUTES ===
	srv.Post("/x/api/v1/pageviews", v1.CollectPageviewHandler, publicAPIConfig)
	srv.Options("/x/api/v1/pageviews", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Post("/x/api/v1/notfound", v1.CollectNotFoundHandler, publicAPIConfig)
	srv.Options("/x/api/v1/notfound", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)

	// === ADMIN API ROUTES ===
	srv.Get("/admin/api/overview", http.OverviewIndexAction, adminAPIConfig)
	srv.Get("/admin/api/stats/daily", http.DailyStatsIndexAction, adminAPIConfig)
	srv.Get("/admin/api/alerts", http.AlertsIndexAction, adminAPIConfig)
}
