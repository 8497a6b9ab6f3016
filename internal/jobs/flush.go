package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"sitealerts/internal/alerts"
	"sitealerts/internal/config"
	"sitealerts/internal/counters"
	"sitealerts/internal/settings"
	"sitealerts/internal/stats"
	"sitealerts/internal/tracking"
)

// FlushJob aggregates the previous day's counters into the persistent daily
// row, runs the alert rules on it, and applies retention. Only complete days
// are flushed; the current day keeps accumulating until the next run.
type FlushJob struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cfg       *config.Config
	now       func() time.Time
}

func NewFlushJob(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *FlushJob {
	return &FlushJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the job's clock; intended for tests.
func (j *FlushJob) SetClock(now func() time.Time) {
	j.now = now
}

// RunIfDue flushes yesterday once the site-local clock has passed the
// configured flush hour and yesterday has not been flushed yet.
func (j *FlushJob) RunIfDue() error {
	loc := j.cfg.Location()
	localNow := j.now().In(loc)
	if localNow.Hour() < j.cfg.FlushHour {
		return nil
	}

	target := stats.DateKey(localNow.AddDate(0, 0, -1), loc)
	lastDate, err := settings.GetSetting(j.dbManager.GetConnection(), settings.KeyLastFlushDate)
	if err == nil && lastDate >= target {
		return nil
	}

	return j.Run()
}

// Run flushes yesterday unconditionally. The counter-store lock keeps
// concurrent runs (a second process, or a manual trigger racing the
// scheduler) from interleaving; a crashed run's lock expires on its own.
func (j *FlushJob) Run() error {
	db := j.dbManager.GetConnection()
	store := counters.NewStore(db, j.logger)

	acquired, err := store.AcquireLock(counters.FlushLockKey, counters.FlushLockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		j.logger.Info("Flush already in progress, skipping")
		return nil
	}
	defer func() {
		if err := store.ReleaseLock(counters.FlushLockKey); err != nil {
			j.logger.Warn("Failed to release flush lock", slog.Any("error", err))
		}
	}()

	loc := j.cfg.Location()
	target := stats.DateKey(j.now().In(loc).AddDate(0, 0, -1), loc)
	return j.flushDate(store, target)
}

func (j *FlushJob) flushDate(store *counters.Store, date string) error {
	db := j.dbManager.GetConnection()
	j.logger.Info("Starting daily flush", slog.String("date", date))

	pageviews, _, err := store.GetInt(counters.PageviewKey(date))
	if err != nil {
		return err
	}
	notFound, _, err := store.GetInt(counters.NotFoundKey(date))
	if err != nil {
		return err
	}
	mapPayload, _, err := store.Get(counters.NotFoundMapKey(date))
	if err != nil {
		return err
	}

	// A day with no counters still gets a zero row: silence is the signal
	// the traffic-drop rule exists for.
	if err := stats.EnsureDay(j.logger, db, date); err != nil {
		return err
	}

	deltaMap := make(map[string]int64)
	for _, entry := range tracking.DecodePathMap(mapPayload) {
		deltaMap[entry.Path] += entry.Count
	}
	delta := stats.NormalizeTop404(deltaMap)

	existing, err := stats.GetDay(db, date)
	if err != nil {
		return err
	}
	var storedTop []stats.Top404Entry
	if existing != nil {
		storedTop = stats.DecodeTop404(existing.Top404)
	}
	merged := stats.MergeTop404(storedTop, delta)

	if err := stats.ApplyFlush(j.logger, db, date, pageviews, notFound, merged); err != nil {
		return err
	}

	engine := alerts.NewEngine(db, j.logger)
	if err := engine.GenerateForDay(date); err != nil {
		return err
	}

	// Counters are consumed only after the flush landed; a failure above
	// leaves them in place for the next attempt.
	for _, key := range []string{
		counters.PageviewKey(date),
		counters.NotFoundKey(date),
		counters.NotFoundMapKey(date),
	} {
		if err := store.Delete(key); err != nil {
			j.logger.Warn("Failed to delete consumed counter",
				slog.String("key", key),
				slog.Any("error", err))
		}
	}

	if err := j.applyRetention(date); err != nil {
		return err
	}

	if err := settings.RecordFlush(db, date, j.now()); err != nil {
		return err
	}

	j.logger.Info("Daily flush completed",
		slog.String("date", date),
		slog.Int64("pageviews", pageviews),
		slog.Int64("errors_404", notFound))
	return nil
}

// applyRetention drops stats and alerts older than the baseline window
// before the flushed date. The window itself stays intact so the next
// flush still has a full baseline to compare against.
func (j *FlushJob) applyRetention(flushedDate string) error {
	day, err := time.Parse(stats.DateLayout, flushedDate)
	if err != nil {
		return fmt.Errorf("failed to parse flush date %s: %w", flushedDate, err)
	}
	cutoff := day.AddDate(0, 0, -stats.RetentionDays).Format(stats.DateLayout)

	db := j.dbManager.GetConnection()
	statsDeleted, err := stats.PurgeOlderThan(j.logger, db, cutoff)
	if err != nil {
		return err
	}
	alertsDeleted, err := alerts.PurgeOlderThan(j.logger, db, cutoff)
	if err != nil {
		return err
	}

	if statsDeleted > 0 || alertsDeleted > 0 {
		j.logger.Info("Applied retention",
			slog.String("cutoff", cutoff),
			slog.Int64("stats_deleted", statsDeleted),
			slog.Int64("alerts_deleted", alertsDeleted))
	}
	return nil
}
