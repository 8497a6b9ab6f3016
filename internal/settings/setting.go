// Package settings stores small operational key-value state, such as the
// timestamp of the last completed daily flush.
package settings

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

const (
	// KeyLastFlushAt holds the RFC 3339 timestamp of the last successful
	// daily flush; the health endpoint reports staleness from it.
	KeyLastFlushAt = "last_flush_at"

	// KeyLastFlushDate holds the day key the last successful flush covered.
	KeyLastFlushDate = "last_flush_date"
)

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	result := dbConn.Where("key = ?", key).First(&setting)

	if result.Error != nil {
		return "", result.Error
	}

	return setting.Value, nil
}

// CreateOrUpdateSetting creates a new setting or updates an existing one
func CreateOrUpdateSetting(dbConn *gorm.DB, key string, value string) error {
	result := dbConn.Exec(`
		INSERT INTO settings (key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC(), time.Now().UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", key, result.Error)
	}
	return nil
}

// RecordFlush stores the completion time and covered day of a daily flush.
func RecordFlush(dbConn *gorm.DB, date string, at time.Time) error {
	if err := CreateOrUpdateSetting(dbConn, KeyLastFlushAt, at.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return CreateOrUpdateSetting(dbConn, KeyLastFlushDate, date)
}

// LastFlushAt returns the time of the last successful flush, or the zero
// time when no flush has completed yet.
func LastFlushAt(dbConn *gorm.DB) (time.Time, error) {
	value, err := GetSetting(dbConn, KeyLastFlushAt)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", KeyLastFlushAt, err)
	}
	return at, nil
}
