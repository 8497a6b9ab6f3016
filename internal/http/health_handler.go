package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"

	"sitealerts/internal/settings"
)

// maxFlushAge is how old the last completed flush may be before the health
// check reports the pipeline as stale. The flush runs daily, so a bit over
// a day covers scheduler jitter and restarts.
const maxFlushAge = 26 * time.Hour

// HealthStatus represents the health check response
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	DBStatus    string    `json:"db_status"`
	FlushStatus string    `json:"flush_status"`
	LastFlushAt string    `json:"last_flush_at,omitempty"`
}

// HealthIndexAction handles the health check endpoint
func HealthIndexAction(ctx *cartridge.Context) error {
	dbStatus := "ok"
	flushStatus := "ok"
	lastFlushAt := ""

	db := ctx.DBManager.GetConnection()
	if db == nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else {
		sqlDB, err := db.DB()
		if err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database connection error", slog.Any("error", err))
		} else if err := sqlDB.Ping(); err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		}
	}

	if dbStatus == "ok" {
		at, err := settings.LastFlushAt(db)
		switch {
		case err != nil:
			flushStatus = "error"
			ctx.Logger.Error("Failed to read last flush time", slog.Any("error", err))
		case at.IsZero():
			// Fresh install; the first flush has simply not happened yet.
			flushStatus = "pending"
		case time.Since(at) > maxFlushAge:
			flushStatus = "stale"
			lastFlushAt = at.Format(time.RFC3339)
		default:
			lastFlushAt = at.Format(time.RFC3339)
		}
	}

	health := HealthStatus{
		Status:      "ok",
		Timestamp:   time.Now(),
		DBStatus:    dbStatus,
		FlushStatus: flushStatus,
		LastFlushAt: lastFlushAt,
	}

	if dbStatus != "ok" || flushStatus == "stale" || flushStatus == "error" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}
