// Package counters implements the ephemeral TTL key-value store used for
// per-day accumulation before the nightly flush persists it. It is backed by
// the main SQLite database so counters survive restarts until consumed.
package counters

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Default lifetimes. Day counters get a generous TTL so they survive until
// the next flush even if the scheduler misses a few ticks; the flush lock is
// short-lived so a crashed flusher cannot wedge future runs.
const (
	DayCounterTTL = 10 * 24 * time.Hour
	FlushLockTTL  = 5 * time.Minute
)

// FlushLockKey guards against overlapping aggregator runs.
const FlushLockKey = "flush:lock"

// CounterRecord is one ephemeral entry. Count carries integer counters,
// Payload carries serialized structures (the 404 path map). Expired rows
// read as absent and are swept opportunistically.
type CounterRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Count     int64     `gorm:"not null;default:0"`
	Payload   string    `gorm:"type:text"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PageviewKey returns the counter key for a day's pageview total.
func PageviewKey(date string) string {
	return "pageviews:" + date
}

// NotFoundKey returns the counter key for a day's 404 total.
func NotFoundKey(date string) string {
	return "notfound:" + date
}

// NotFoundMapKey returns the counter key for a day's 404 path map.
func NotFoundMapKey(date string) string {
	return "notfound:paths:" + date
}

// Store provides get/set/increment/delete with TTL semantics over
// CounterRecord rows. The increment is a single upsert statement, so
// concurrent request handlers never lose updates.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a counter store on the given connection.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's clock; intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Increment atomically adds by to the integer counter at key and returns the
// new value. A missing or expired entry restarts from zero with a fresh TTL.
func (s *Store) Increment(key string, by int64, ttl time.Duration) (int64, error) {
	now := s.now()
	expiresAt := now.Add(ttl)

	err := sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		// An expired row is logically absent, so the conflict branch resets
		// it instead of adding onto a stale value.
		query := `
			INSERT INTO counter_records (key, count, payload, expires_at, created_at, updated_at)
			VALUES (?, ?, '', ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				count = CASE WHEN counter_records.expires_at <= ? THEN ? ELSE counter_records.count + ? END,
				expires_at = CASE WHEN counter_records.expires_at <= ? THEN ? ELSE counter_records.expires_at END,
				updated_at = ?
		`
		return tx.Exec(query,
			key, by, expiresAt, now, now,
			now, by, by,
			now, expiresAt,
			now).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}

	value, _, err := s.GetInt(key)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// GetInt returns the integer counter at key, or (0, false) if absent/expired.
func (s *Store) GetInt(key string) (int64, bool, error) {
	var record CounterRecord
	err := s.db.Where("key = ? AND expires_at > ?", key, s.now()).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return record.Count, true, nil
}

// Get returns the payload stored at key, or ("", false) if absent/expired.
func (s *Store) Get(key string) (string, bool, error) {
	var record CounterRecord
	err := s.db.Where("key = ? AND expires_at > ?", key, s.now()).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return record.Payload, true, nil
}

// Set stores payload at key with the given TTL, replacing any existing entry.
func (s *Store) Set(key, payload string, ttl time.Duration) error {
	now := s.now()
	expiresAt := now.Add(ttl)

	err := sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		query := `
			INSERT INTO counter_records (key, count, payload, expires_at, created_at, updated_at)
			VALUES (?, 0, ?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				payload = ?,
				expires_at = ?,
				updated_at = ?
		`
		return tx.Exec(query,
			key, payload, expiresAt, now, now,
			payload, expiresAt, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to set counter %s: %w", key, err)
	}
	return nil
}

// Delete removes the entry at key. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) error {
	err := sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		return tx.Where("key = ?", key).Delete(&CounterRecord{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete counter %s: %w", key, err)
	}
	return nil
}

// AcquireLock attempts a set-if-absent on key with the given TTL and reports
// whether this caller won. An expired lock row counts as absent, so a crashed
// holder self-expires rather than blocking future acquisitions. This is
// advisory locking: the occasional double-run it fails to prevent is bounded
// by the flush pipeline's idempotent merge semantics.
func (s *Store) AcquireLock(key string, ttl time.Duration) (bool, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	acquired := false

	err := sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		query := `
			INSERT INTO counter_records (key, count, payload, expires_at, created_at, updated_at)
			VALUES (?, 1, '', ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				expires_at = ?,
				updated_at = ?
			WHERE counter_records.expires_at <= ?
		`
		result := tx.Exec(query,
			key, expiresAt, now, now,
			expiresAt, now,
			now)
		if result.Error != nil {
			return result.Error
		}
		acquired = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return acquired, nil
}

// ReleaseLock drops the lock entry at key.
func (s *Store) ReleaseLock(key string) error {
	return s.Delete(key)
}

// PurgeExpired deletes every expired entry and returns the count removed.
func (s *Store) PurgeExpired() (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		result := tx.Where("expires_at <= ?", s.now()).Delete(&CounterRecord{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired counters: %w", err)
	}
	return deleted, nil
}
