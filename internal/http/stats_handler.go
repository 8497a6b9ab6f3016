package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitealerts/internal/alerts"
	"sitealerts/internal/config"
	"sitealerts/internal/pkg/async"
	"sitealerts/internal/stats"
)

// Overview is the dashboard payload: the retained daily history, the
// current rolling baseline, recent alerts, and the aggregated top 404
// paths across the window.
type Overview struct {
	Date     string                `json:"date"`
	History  []stats.DailyStat     `json:"history"`
	Baseline stats.Baseline        `json:"baseline"`
	Alerts   []alerts.Alert        `json:"alerts"`
	Digest   []alerts.SeverityCount `json:"digest"`
	Top404   []stats.Top404Entry   `json:"top404"`
}

// OverviewIndexAction assembles the dashboard overview. The independent
// queries run through a worker pool, same pattern as any other multi-query
// read endpoint.
func OverviewIndexAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	loc := config.GetConfig().Location()
	now := time.Now().In(loc)
	today := stats.DateKey(now, loc)
	tomorrow := stats.DateKey(now.AddDate(0, 0, 1), loc)
	digestFrom := stats.DateKey(now.AddDate(0, 0, -(stats.RetentionDays-1)), loc)

	tasks := []async.Task{
		{
			Name: "history",
			Execute: func() (interface{}, error) {
				return stats.History(db, tomorrow, stats.RetentionDays+1)
			},
		},
		{
			Name: "baseline",
			Execute: func() (interface{}, error) {
				return stats.ComputeBaseline(db, today, stats.BaselineWindowDays)
			},
		},
		{
			Name: "alerts",
			Execute: func() (interface{}, error) {
				return alerts.Latest(db, 10)
			},
		},
		{
			Name: "digest",
			Execute: func() (interface{}, error) {
				return alerts.CountBySeverity(db, digestFrom)
			},
		},
	}

	pool := async.NewPool(4)
	results := pool.Execute(context.Background(), tasks)
	for name, result := range results {
		if result.Err != nil {
			ctx.Logger.Error("Overview query failed",
				slog.String("query", name),
				slog.Any("error", result.Err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": fmt.Sprintf("failed to load %s", name),
			})
		}
	}

	history := results["history"].Data.([]stats.DailyStat)
	overview := Overview{
		Date:     today,
		History:  history,
		Baseline: results["baseline"].Data.(stats.Baseline),
		Alerts:   results["alerts"].Data.([]alerts.Alert),
		Digest:   results["digest"].Data.([]alerts.SeverityCount),
		Top404:   aggregateTop404(history),
	}
	return ctx.JSON(overview)
}

// aggregateTop404 merges the per-day top lists into one ranking for the
// whole retained window.
func aggregateTop404(history []stats.DailyStat) []stats.Top404Entry {
	totals := make(map[string]int64)
	for _, day := range history {
		for _, entry := range stats.DecodeTop404(day.Top404) {
			totals[entry.Path] += entry.Count
		}
	}
	return stats.NormalizeTop404(totals)
}

// DailyStatsIndexAction lists the retained daily rows, most recent first.
func DailyStatsIndexAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	loc := config.GetConfig().Location()
	tomorrow := stats.DateKey(time.Now().In(loc).AddDate(0, 0, 1), loc)

	rows, err := stats.History(db, tomorrow, stats.RetentionDays+1)
	if err != nil {
		ctx.Logger.Error("Failed to load daily stats", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load daily stats",
		})
	}
	return ctx.JSON(fiber.Map{"stats": rows})
}

// AlertsIndexAction lists alerts, either the most recent ones or, with the
// date query parameter, every alert for one day.
func AlertsIndexAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()

	if date := ctx.Query("date"); date != "" {
		if _, err := time.Parse(stats.DateLayout, date); err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid date, expected YYYY-MM-DD",
			})
		}
		rows, err := alerts.ForDate(db, date)
		if err != nil {
			ctx.Logger.Error("Failed to load alerts", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load alerts",
			})
		}
		return ctx.JSON(fiber.Map{"alerts": rows})
	}

	rows, err := alerts.Latest(db, 50)
	if err != nil {
		ctx.Logger.Error("Failed to load alerts", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load alerts",
		})
	}
	return ctx.JSON(fiber.Map{"alerts": rows})
}
