// Package v1 exposes the public ingestion API. Monitored sites report
// pageview and not-found signals here; responses are always fast and the
// handlers never block on anything but a single counter write.
package v1

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitealerts/internal/config"
	"sitealerts/internal/counters"
	"sitealerts/internal/tracking"
)

const errInvalidRequest = "Invalid request"

// PageviewParams is the body a monitored site's reporter sends for each
// frontend request. Fetch metadata headers are forwarded in the body
// because the reporter runs server-side, not in the visitor's browser.
type PageviewParams struct {
	Path          string `json:"path"`
	Query         string `json:"query"`
	UserAgent     string `json:"userAgent"`
	SecFetchMode  string `json:"secFetchMode"`
	SecPurpose    string `json:"secPurpose"`
	LegacyPurpose string `json:"purpose"`
}

// NotFoundParams is the body sent when a monitored site serves a 404.
type NotFoundParams struct {
	Path string `json:"path"`
}

// CollectPageviewHandler records one qualifying pageview and returns 202.
// Disqualified signals also return 202; the reporter cannot act on the
// distinction and the qualification rules are not a contract.
func CollectPageviewHandler(ctx *cartridge.Context) error {
	var params PageviewParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		ctx.Logger.Debug("Failed to parse pageview request", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	if params.UserAgent == "" {
		params.UserAgent = ctx.Get("X-Forwarded-User-Agent")
	}

	ctx.Logger.Debug("Received pageview signal",
		slog.String("path", params.Path),
		slog.String("reporter_ip", getClientIP(ctx.Ctx)))

	collector := tracking.NewCollector(
		counters.NewStore(ctx.DBManager.GetConnection(), ctx.Logger),
		ctx.Logger,
		config.GetConfig().Location(),
	)
	collector.Record(tracking.PageviewSignal{
		Path:          params.Path,
		Query:         params.Query,
		UserAgent:     params.UserAgent,
		SecFetchMode:  params.SecFetchMode,
		SecPurpose:    params.SecPurpose,
		LegacyPurpose: params.LegacyPurpose,
	})

	return ctx.SendStatus(http.StatusAccepted)
}

// CollectNotFoundHandler records one not-found response and returns 202.
func CollectNotFoundHandler(ctx *cartridge.Context) error {
	var params NotFoundParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		ctx.Logger.Debug("Failed to parse not-found request", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}
	if params.Path == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	tracker := tracking.NewTracker(
		counters.NewStore(ctx.DBManager.GetConnection(), ctx.Logger),
		ctx.Logger,
		config.GetConfig().Location(),
	)
	tracker.Record(params.Path)

	return ctx.SendStatus(http.StatusAccepted)
}
