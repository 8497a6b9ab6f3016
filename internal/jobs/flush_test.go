package jobs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitealerts/internal/alerts"
	"sitealerts/internal/config"
	"sitealerts/internal/counters"
	"sitealerts/internal/jobs"
	"sitealerts/internal/settings"
	"sitealerts/internal/stats"
	"sitealerts/internal/testsupport"
)

const flushTarget = "2026-08-29"

// newFlushJob pins the clock to just past midnight UTC on the 30th, so the
// flush target is the 29th.
func newFlushJob(t *testing.T) (*testsupport.TestDBManager, *jobs.FlushJob) {
	t.Helper()

	db := testsupport.SetupTestDB(t)
	dbManager := testsupport.NewTestDBManager(db)
	job := jobs.NewFlushJob(dbManager, testsupport.GetLogger(), config.GetConfig())
	job.SetClock(func() time.Time {
		return time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC)
	})
	return dbManager, job
}

func TestFlushAggregatesYesterday(t *testing.T) {
	dbManager, job := newFlushJob(t)
	db := dbManager.GetConnection()
	store := counters.NewStore(db, testsupport.GetLogger())

	testsupport.SeedDailyStats(t, db, flushTarget, stats.BaselineWindowDays, 1000, 2)

	_, err := store.Increment(counters.PageviewKey(flushTarget), 500, counters.DayCounterTTL)
	require.NoError(t, err)
	_, err = store.Increment(counters.NotFoundKey(flushTarget), 12, counters.DayCounterTTL)
	require.NoError(t, err)
	require.NoError(t, store.Set(counters.NotFoundMapKey(flushTarget),
		`[{"path":"/old","count":7},{"path":"/gone","count":3},{"path":"/x","count":1},{"path":"/y","count":1}]`,
		counters.DayCounterTTL))

	require.NoError(t, job.Run())

	day, err := stats.GetDay(db, flushTarget)
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, int64(500), day.Pageviews)
	assert.Equal(t, int64(12), day.Errors404)

	top := stats.DecodeTop404(day.Top404)
	require.Len(t, top, stats.Top404Limit)
	assert.Equal(t, stats.Top404Entry{Path: "/old", Count: 7}, top[0])
	assert.Equal(t, stats.Top404Entry{Path: "/gone", Count: 3}, top[1])

	// Halved traffic against a 1000 average is a critical drop; twelve 404s
	// against a quiet baseline clears the absolute floor
	rows, err := alerts.ForDate(db, flushTarget)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byType := map[alerts.Type]alerts.Alert{}
	for _, row := range rows {
		byType[row.Type] = row
	}
	assert.Equal(t, alerts.SeverityCritical, byType[alerts.TypeTrafficDrop].Severity)
	assert.Equal(t, alerts.SeverityWarning, byType[alerts.TypeError404Spike].Severity)

	// Consumed counters are gone
	for _, key := range []string{
		counters.PageviewKey(flushTarget),
		counters.NotFoundKey(flushTarget),
	} {
		_, found, err := store.GetInt(key)
		require.NoError(t, err)
		assert.False(t, found, key)
	}
	_, found, err := store.Get(counters.NotFoundMapKey(flushTarget))
	require.NoError(t, err)
	assert.False(t, found)

	// Completion is recorded for the health check and the due check
	lastDate, err := settings.GetSetting(db, settings.KeyLastFlushDate)
	require.NoError(t, err)
	assert.Equal(t, flushTarget, lastDate)
	lastAt, err := settings.LastFlushAt(db)
	require.NoError(t, err)
	assert.False(t, lastAt.IsZero())
}

func TestFlushWithNoCountersStillWritesZeroDay(t *testing.T) {
	dbManager, job := newFlushJob(t)
	db := dbManager.GetConnection()

	testsupport.SeedDailyStats(t, db, flushTarget, stats.BaselineWindowDays, 1000, 0)

	require.NoError(t, job.Run())

	day, err := stats.GetDay(db, flushTarget)
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, int64(0), day.Pageviews)

	// A silent day is the strongest drop signal there is
	rows, err := alerts.ForDate(db, flushTarget)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, alerts.TypeTrafficDrop, rows[0].Type)
	assert.Equal(t, alerts.SeverityCritical, rows[0].Severity)
}

func TestFlushSkipsWhenLocked(t *testing.T) {
	dbManager, job := newFlushJob(t)
	db := dbManager.GetConnection()
	store := counters.NewStore(db, testsupport.GetLogger())

	acquired, err := store.AcquireLock(counters.FlushLockKey, counters.FlushLockTTL)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, job.Run())

	// Nothing was flushed while the lock was held elsewhere
	day, err := stats.GetDay(db, flushTarget)
	require.NoError(t, err)
	assert.Nil(t, day)
}

func TestRunIfDueSkipsAlreadyFlushedDay(t *testing.T) {
	dbManager, job := newFlushJob(t)
	db := dbManager.GetConnection()

	require.NoError(t, settings.CreateOrUpdateSetting(db, settings.KeyLastFlushDate, flushTarget))

	require.NoError(t, job.RunIfDue())

	day, err := stats.GetDay(db, flushTarget)
	require.NoError(t, err)
	assert.Nil(t, day)
}

func TestFlushAppliesRetention(t *testing.T) {
	dbManager, job := newFlushJob(t)
	db := dbManager.GetConnection()
	logger := testsupport.GetLogger()

	// Baseline window 08-22..08-28, plus one day beyond the retention edge
	testsupport.SeedDailyStats(t, db, flushTarget, stats.BaselineWindowDays, 1000, 0)
	require.NoError(t, stats.ApplyFlush(logger, db, "2026-08-21", 900, 0, nil))
	_, err := alerts.CreateIfAbsent(logger, db, &alerts.Alert{
		Date: "2026-08-21", Type: alerts.TypeTrafficDrop, Severity: alerts.SeverityWarning,
		Title: "t", Message: "m", Meta: "{}",
	})
	require.NoError(t, err)

	store := counters.NewStore(db, logger)
	_, err = store.Increment(counters.PageviewKey(flushTarget), 1000, counters.DayCounterTTL)
	require.NoError(t, err)

	require.NoError(t, job.Run())

	// The day past the retention window is purged, the window edge survives
	gone, err := stats.GetDay(db, "2026-08-21")
	require.NoError(t, err)
	assert.Nil(t, gone)
	edge, err := stats.GetDay(db, "2026-08-22")
	require.NoError(t, err)
	assert.NotNil(t, edge)

	oldAlerts, err := alerts.ForDate(db, "2026-08-21")
	require.NoError(t, err)
	assert.Empty(t, oldAlerts)
}
