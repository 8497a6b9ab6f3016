// Package alerts stores anomaly alert records and implements the rule
// engine that raises them from baseline deviations.
package alerts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitealerts/internal/stats"
)

// Type identifies the anomaly kind an alert reports. The set is open for
// extension; the (date, type) pair is the dedup key.
type Type string

const (
	TypeTrafficDrop   Type = "traffic_drop"
	TypeTrafficSpike  Type = "traffic_spike"
	TypeError404Spike Type = "error_404_spike"
)

// Severity grades an alert for display and digest counting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one anomaly record. At most one row exists per (date, type);
// creation is a conditional insert, so re-running the engine for an
// already-alerted date is a no-op.
type Alert struct {
	ID        uint     `gorm:"primaryKey;autoIncrement"`
	Date      string   `gorm:"uniqueIndex:idx_alerts_date_type;size:10;not null"`
	Type      Type     `gorm:"uniqueIndex:idx_alerts_date_type;size:32;not null"`
	Severity  Severity `gorm:"size:16;not null"`
	Title     string   `gorm:"not null"`
	Message   string   `gorm:"type:text;not null"`
	Meta      string   `gorm:"type:text;not null;default:'{}'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TrafficMeta is the structured payload for traffic_drop and traffic_spike
// alerts.
type TrafficMeta struct {
	Today     int64   `json:"today"`
	Avg7      int64   `json:"avg7"`
	ChangePct float64 `json:"changePct"`
}

// NotFoundMeta is the structured payload for error_404_spike alerts.
// ChangePct is null when the baseline 404 average is zero.
type NotFoundMeta struct {
	Today     int64               `json:"today"`
	Avg7      int64               `json:"avg7"`
	ChangePct *float64            `json:"changePct"`
	Top       []stats.Top404Entry `json:"top"`
}

// encodeMeta serializes a rule payload at the persistence boundary.
func encodeMeta(meta any) (string, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode alert meta: %w", err)
	}
	return string(data), nil
}

// CreateIfAbsent inserts the alert unless a row with the same (date, type)
// already exists, and reports whether a row was created. The conflict check
// and insert are a single statement, so concurrent engine runs cannot race
// a duplicate in between.
func CreateIfAbsent(logger *slog.Logger, db *gorm.DB, alert *Alert) (bool, error) {
	created := false
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.Exec(`
			INSERT INTO alerts (date, type, severity, title, message, meta, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (date, type) DO NOTHING
		`, alert.Date, alert.Type, alert.Severity, alert.Title, alert.Message, alert.Meta, now, now)
		if result.Error != nil {
			return result.Error
		}
		created = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to create alert %s/%s: %w", alert.Date, alert.Type, err)
	}
	return created, nil
}

// Latest returns up to limit alerts, newest date first.
func Latest(db *gorm.DB, limit int) ([]Alert, error) {
	var rows []Alert
	err := db.Order("date DESC, id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest alerts: %w", err)
	}
	return rows, nil
}

// SeverityCount is one bucket of the alert digest.
type SeverityCount struct {
	Severity Severity `json:"severity"`
	Count    int64    `json:"count"`
}

// CountBySeverity counts alerts dated on or after fromDate, grouped by
// severity.
func CountBySeverity(db *gorm.DB, fromDate string) ([]SeverityCount, error) {
	var rows []SeverityCount
	err := db.Model(&Alert{}).
		Select("severity, COUNT(*) as count").
		Where("date >= ?", fromDate).
		Group("severity").
		Order("severity ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by severity: %w", err)
	}
	return rows, nil
}

// ForDate returns all alerts recorded for one date.
func ForDate(db *gorm.DB, date string) ([]Alert, error) {
	var rows []Alert
	err := db.Where("date = ?", date).Order("type ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts for %s: %w", date, err)
	}
	return rows, nil
}

// PurgeOlderThan deletes alerts dated strictly before cutoff and returns the
// number removed.
func PurgeOlderThan(logger *slog.Logger, db *gorm.DB, cutoff string) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("date < ?", cutoff).Delete(&Alert{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge alerts before %s: %w", cutoff, err)
	}
	return deleted, nil
}
