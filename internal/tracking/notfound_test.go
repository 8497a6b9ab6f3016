package tracking_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitealerts/internal/counters"
	"sitealerts/internal/testsupport"
	"sitealerts/internal/tracking"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"plain path", "/old-page", "/old-page"},
		{"strips query", "/old-page?utm_source=x&ref=1", "/old-page"},
		{"trims one trailing slash", "/old-page/", "/old-page"},
		{"root stays root", "/", "/"},
		{"percent decoding", "/caf%C3%A9", "/café"},
		{"encoded query separator", "/old-page%3Ffoo", "/old-page"},
		{"truncates long paths", "/" + strings.Repeat("a", 300), "/" + strings.Repeat("a", 199)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tracking.NormalizePath(tc.raw))
		})
	}
}

func TestTrackerRecord(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	store := counters.NewStore(db, testsupport.GetLogger())
	tracker := tracking.NewTracker(store, testsupport.GetLogger(), time.UTC)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	tracker.SetClock(func() time.Time { return now })

	tracker.Record("/old-page")
	tracker.Record("/old-page/")
	tracker.Record("/missing.jpg?size=large")
	// Admin and API 404s are not content anomalies
	tracker.Record("/admin/missing")
	tracker.Record("/api/v1/missing")

	total, found, err := store.GetInt(counters.NotFoundKey("2026-08-29"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), total)

	payload, found, err := store.Get(counters.NotFoundMapKey("2026-08-29"))
	require.NoError(t, err)
	require.True(t, found)

	entries := tracking.DecodePathMap(payload)
	require.Len(t, entries, 2)

	byPath := make(map[string]int64)
	for _, entry := range entries {
		byPath[entry.Path] = entry.Count
	}
	// Normalization folds the trailing-slash variant into one path
	assert.Equal(t, int64(2), byPath["/old-page"])
	assert.Equal(t, int64(1), byPath["/missing.jpg"])
}

func TestTrackerMapStaysBounded(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	store := counters.NewStore(db, testsupport.GetLogger())
	tracker := tracking.NewTracker(store, testsupport.GetLogger(), time.UTC)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	tracker.SetClock(func() time.Time { return now })

	// A heavy hitter, then enough distinct paths to overflow the map
	for i := 0; i < 5; i++ {
		tracker.Record("/hot-missing-page")
	}
	for i := 0; i < tracking.MaxTrackedPaths+10; i++ {
		tracker.Record(fmt.Sprintf("/noise-%03d", i))
	}

	payload, found, err := store.Get(counters.NotFoundMapKey("2026-08-29"))
	require.NoError(t, err)
	require.True(t, found)

	entries := tracking.DecodePathMap(payload)
	assert.LessOrEqual(t, len(entries), tracking.MaxTrackedPaths)

	// Pruning keeps the heavy hitter
	var hotCount int64
	for _, entry := range entries {
		if entry.Path == "/hot-missing-page" {
			hotCount = entry.Count
		}
	}
	assert.Equal(t, int64(5), hotCount)

	// The exact total survives regardless of map pruning
	total, _, err := store.GetInt(counters.NotFoundKey("2026-08-29"))
	require.NoError(t, err)
	assert.Equal(t, int64(5+tracking.MaxTrackedPaths+10), total)
}

func TestDecodePathMapCorruptPayload(t *testing.T) {
	assert.Empty(t, tracking.DecodePathMap(""))
	assert.Empty(t, tracking.DecodePathMap("{not json"))
}
