// Package stats owns the persistent daily traffic rows and the rolling
// baseline computed from them. One row exists per calendar date; all writes
// are additive upserts so repeated flushes of the same day never overwrite
// earlier increments.
package stats

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// DateLayout is the canonical calendar-day key, site-local time. ISO dates
// compare lexicographically, so range queries work directly on the string.
const DateLayout = "2006-01-02"

// RetentionDays is the fixed sliding window for daily stats and alerts.
const RetentionDays = 7

// DailyStat is one day's persisted traffic totals. Mutated only by the
// flush job; deleted by the retention purge or by truncate tooling.
type DailyStat struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Date      string `gorm:"uniqueIndex;size:10;not null"`
	Pageviews int64  `gorm:"not null;default:0"`
	Errors404 int64  `gorm:"not null;default:0"`
	Top404    string `gorm:"type:text;not null;default:'[]'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DateKey formats t as a calendar-day key in the given location.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// EnsureDay creates a zero-valued row for date if none exists yet.
func EnsureDay(logger *slog.Logger, db *gorm.DB, date string) error {
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		return tx.Exec(`
			INSERT INTO daily_stats (date, pageviews, errors404, top404, created_at, updated_at)
			VALUES (?, 0, 0, '[]', ?, ?)
			ON CONFLICT (date) DO NOTHING
		`, date, now, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to ensure daily stat for %s: %w", date, err)
	}
	return nil
}

// ApplyFlush adds the pageview and 404 deltas onto the row for date and
// replaces its top-404 list with the already-merged one. Totals are summed,
// never overwritten, because a day's counters may be flushed incrementally.
func ApplyFlush(logger *slog.Logger, db *gorm.DB, date string, pageviewDelta, errors404Delta int64, mergedTop404 []Top404Entry) error {
	top404JSON, err := EncodeTop404(mergedTop404)
	if err != nil {
		return err
	}

	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		return tx.Exec(`
			INSERT INTO daily_stats (date, pageviews, errors404, top404, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (date) DO UPDATE SET
				pageviews = daily_stats.pageviews + ?,
				errors404 = daily_stats.errors404 + ?,
				top404 = ?,
				updated_at = ?
		`, date, pageviewDelta, errors404Delta, top404JSON, now, now,
			pageviewDelta, errors404Delta, top404JSON, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to apply flush for %s: %w", date, err)
	}
	return nil
}

// GetDay returns the row for date, or (nil, nil) if none exists.
func GetDay(db *gorm.DB, date string) (*DailyStat, error) {
	var stat DailyStat
	err := db.Where("date = ?", date).First(&stat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load daily stat for %s: %w", date, err)
	}
	return &stat, nil
}

// History returns up to limit rows dated strictly before beforeDate, most
// recent first.
func History(db *gorm.DB, beforeDate string, limit int) ([]DailyStat, error) {
	var rows []DailyStat
	err := db.Where("date < ?", beforeDate).
		Order("date DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load daily stat history: %w", err)
	}
	return rows, nil
}

// PurgeOlderThan deletes rows dated strictly before cutoff and returns the
// number removed.
func PurgeOlderThan(logger *slog.Logger, db *gorm.DB, cutoff string) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("date < ?", cutoff).Delete(&DailyStat{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge daily stats before %s: %w", cutoff, err)
	}
	return deleted, nil
}
