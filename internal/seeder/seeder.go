// Package seeder generates demo data: a week of plausible daily history
// plus partially accumulated counters for today, so a fresh install shows a
// working dashboard and the next flush exercises the full pipeline.
package seeder

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"

	"sitealerts/internal/config"
	"sitealerts/internal/counters"
	"sitealerts/internal/stats"
	"sitealerts/internal/tracking"
)

var sampleMissingPaths = []string{
	"/old-page",
	"/blog/deleted-post",
	"/wp-content/uploads/missing.jpg",
	"/category/archive",
}

// Seeder handles the demo data seeding process.
type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger
	Days      int
}

// NewSeeder creates a new seeder instance covering the given number of
// history days.
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, days int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if days <= 0 {
		days = stats.BaselineWindowDays + 1
	}
	return &Seeder{
		DBManager: dbManager,
		Logger:    logger,
		Days:      days,
	}
}

// Run seeds daily history and today's counters.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Seeding demo data...", slog.Int("days", s.Days))

	loc := config.GetConfig().Location()
	now := time.Now().In(loc)

	if err := s.seedHistory(ctx, now, loc); err != nil {
		return err
	}
	if err := s.seedTodayCounters(now, loc); err != nil {
		return err
	}

	s.Logger.Info("Seeding completed", slog.Duration("took", time.Since(start)))
	return nil
}

func (s *Seeder) seedHistory(ctx context.Context, now time.Time, loc *time.Location) error {
	db := s.DBManager.GetConnection()

	for i := s.Days; i >= 1; i-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		date := stats.DateKey(now.AddDate(0, 0, -i), loc)
		pageviews := int64(800 + rand.IntN(400))
		errors404 := int64(rand.IntN(4))

		top := make(map[string]int64)
		for n := int64(0); n < errors404; n++ {
			top[sampleMissingPaths[rand.IntN(len(sampleMissingPaths))]]++
		}

		if err := stats.EnsureDay(s.Logger, db, date); err != nil {
			return err
		}
		if err := stats.ApplyFlush(s.Logger, db, date, pageviews, errors404, stats.NormalizeTop404(top)); err != nil {
			return fmt.Errorf("failed to seed day %s: %w", date, err)
		}
	}

	s.Logger.Info("Seeded daily history", slog.Int("days", s.Days))
	return nil
}

// seedTodayCounters leaves today mid-accumulation, the state a live install
// is in between flushes.
func (s *Seeder) seedTodayCounters(now time.Time, loc *time.Location) error {
	store := counters.NewStore(s.DBManager.GetConnection(), s.Logger)
	date := stats.DateKey(now, loc)

	pageviews := int64(200 + rand.IntN(300))
	if _, err := store.Increment(counters.PageviewKey(date), pageviews, counters.DayCounterTTL); err != nil {
		return err
	}

	// Route the 404s through the tracker so the path map gets seeded too.
	tracker := tracking.NewTracker(store, s.Logger, loc)
	notFound := int64(rand.IntN(3))
	for n := int64(0); n < notFound; n++ {
		tracker.Record(sampleMissingPaths[rand.IntN(len(sampleMissingPaths))])
	}

	s.Logger.Info("Seeded today's counters",
		slog.String("date", date),
		slog.Int64("pageviews", pageviews),
		slog.Int64("errors_404", notFound))
	return nil
}
