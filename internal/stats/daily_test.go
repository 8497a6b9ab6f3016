package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitealerts/internal/stats"
	"sitealerts/internal/testsupport"
)

func TestEnsureDayIdempotent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, stats.EnsureDay(logger, db, "2026-08-29"))
	require.NoError(t, stats.EnsureDay(logger, db, "2026-08-29"))

	day, err := stats.GetDay(db, "2026-08-29")
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, int64(0), day.Pageviews)
	assert.Equal(t, int64(0), day.Errors404)
}

func TestApplyFlushIsAdditive(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	top := []stats.Top404Entry{{Path: "/old", Count: 3}}
	require.NoError(t, stats.ApplyFlush(logger, db, "2026-08-29", 100, 5, top))
	require.NoError(t, stats.ApplyFlush(logger, db, "2026-08-29", 40, 2, top))

	day, err := stats.GetDay(db, "2026-08-29")
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, int64(140), day.Pageviews)
	assert.Equal(t, int64(7), day.Errors404)
	assert.Equal(t, top, stats.DecodeTop404(day.Top404))
}

func TestGetDayMissing(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	day, err := stats.GetDay(db, "2026-01-01")
	require.NoError(t, err)
	assert.Nil(t, day)
}

func TestHistory(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.SeedDailyStats(t, db, "2026-08-29", 10, 100, 1)

	rows, err := stats.History(db, "2026-08-29", 7)
	require.NoError(t, err)
	require.Len(t, rows, 7)

	// Most recent first, reference date excluded
	assert.Equal(t, "2026-08-28", rows[0].Date)
	assert.Equal(t, "2026-08-22", rows[6].Date)
}

func TestComputeBaseline(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.SeedDailyStats(t, db, "2026-08-29", 7, 1000, 2)

	// The reference day's own row must not influence its baseline
	require.NoError(t, stats.ApplyFlush(testsupport.GetLogger(), db, "2026-08-29", 50, 90, nil))

	baseline, err := stats.ComputeBaseline(db, "2026-08-29", stats.BaselineWindowDays)
	require.NoError(t, err)
	assert.Equal(t, 7, baseline.SampleCount)
	assert.InDelta(t, 1000.0, baseline.AvgPageviews, 0.001)
	assert.InDelta(t, 2.0, baseline.Avg404, 0.001)
}

func TestComputeBaselineNoHistory(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	baseline, err := stats.ComputeBaseline(db, "2026-08-29", stats.BaselineWindowDays)
	require.NoError(t, err)
	assert.Equal(t, stats.Baseline{}, baseline)
}

func TestComputeBaselinePartialHistory(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.SeedDailyStats(t, db, "2026-08-29", 3, 600, 0)

	baseline, err := stats.ComputeBaseline(db, "2026-08-29", stats.BaselineWindowDays)
	require.NoError(t, err)
	assert.Equal(t, 3, baseline.SampleCount)
	assert.InDelta(t, 600.0, baseline.AvgPageviews, 0.001)
}

func TestPurgeOlderThan(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	testsupport.SeedDailyStats(t, db, "2026-08-29", 10, 100, 0)

	deleted, err := stats.PurgeOlderThan(logger, db, "2026-08-22")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	// The cutoff day itself survives
	day, err := stats.GetDay(db, "2026-08-22")
	require.NoError(t, err)
	assert.NotNil(t, day)

	gone, err := stats.GetDay(db, "2026-08-21")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
