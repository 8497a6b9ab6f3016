package tracking

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"sitealerts/internal/counters"
	"sitealerts/internal/stats"
)

const (
	// MaxTrackedPaths bounds the per-day not-found path map. When the map
	// overflows, only the heaviest hitters survive; the total counter keeps
	// the exact count regardless.
	MaxTrackedPaths = 30

	maxTrackedPathLength = 200
)

// Tracker records not-found responses: an exact daily total plus an
// approximate per-path frequency map.
type Tracker struct {
	store  *counters.Store
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewTracker creates a not-found tracker writing into store, with day
// boundaries computed in loc.
func NewTracker(store *counters.Store, logger *slog.Logger, loc *time.Location) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		loc:    loc,
		now:    time.Now,
	}
}

// SetClock overrides the tracker's clock; intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Record counts one not-found response for today. Admin and API paths are
// skipped; broken internal links are a deployment problem, not a content
// anomaly. Failures are logged and swallowed.
func (t *Tracker) Record(rawPath string) {
	if isReservedPath(rawPath) {
		return
	}
	path := NormalizePath(rawPath)
	if path == "" {
		return
	}

	date := stats.DateKey(t.now(), t.loc)
	if _, err := t.store.Increment(counters.NotFoundKey(date), 1, counters.DayCounterTTL); err != nil {
		t.logger.Warn("Failed to record not-found total",
			slog.String("date", date),
			slog.Any("error", err))
		return
	}

	if err := t.trackPath(date, path); err != nil {
		t.logger.Warn("Failed to record not-found path",
			slog.String("date", date),
			slog.String("path", path),
			slog.Any("error", err))
	}
}

// trackPath updates the day's path frequency map. The read-modify-write is
// not atomic across concurrent requests; the map is an approximate
// heavy-hitter sketch and an occasional lost increment is acceptable.
func (t *Tracker) trackPath(date string, path string) error {
	key := counters.NotFoundMapKey(date)
	payload, _, err := t.store.Get(key)
	if err != nil {
		return err
	}

	entries := DecodePathMap(payload)
	found := false
	for i := range entries {
		if entries[i].Path == path {
			entries[i].Count++
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, stats.Top404Entry{Path: path, Count: 1})
	}

	if len(entries) > MaxTrackedPaths {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Count > entries[j].Count
		})
		entries = entries[:MaxTrackedPaths]
	}

	encoded, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return t.store.Set(key, string(encoded), counters.DayCounterTTL)
}

// DecodePathMap parses a stored path frequency payload. Corrupt or empty
// payloads decode as an empty map; the tracker starts over rather than
// failing the request.
func DecodePathMap(payload string) []stats.Top404Entry {
	if payload == "" {
		return nil
	}
	var entries []stats.Top404Entry
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		return nil
	}
	return entries
}

// NormalizePath canonicalizes a request path for frequency counting:
// percent-decoding, query stripping, one trailing slash trimmed (the root
// path stays "/"), and a length cap so hostile URLs cannot bloat the map.
func NormalizePath(raw string) string {
	p := raw
	if decoded, err := url.QueryUnescape(p); err == nil {
		p = decoded
	}
	if idx := strings.IndexByte(p, '?'); idx >= 0 {
		p = p[:idx]
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "" {
		return ""
	}
	if len(p) > maxTrackedPathLength {
		p = p[:maxTrackedPathLength]
	}
	return p
}
