// Package tracking implements the request-time collectors: the pageview
// counter and the not-found path tracker. Both are best-effort; a failed
// counter write is logged and dropped, never surfaced to the request.
package tracking

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"sitealerts/internal/counters"
	"sitealerts/internal/pkg/requestfilter"
	"sitealerts/internal/stats"
)

// reservedPathPrefixes covers traffic that never counts as a frontend
// pageview: admin surfaces, API/AJAX calls, cron endpoints and feeds.
var reservedPathPrefixes = []string{
	"/admin",
	"/api/",
	"/ajax/",
	"/cron",
	"/feed",
}

// PageviewSignal carries the request attributes the qualification rule
// inspects.
type PageviewSignal struct {
	Path         string
	Query        string
	UserAgent    string
	SecFetchMode string
	SecPurpose   string
	// Older Chrome and Firefox prefetch implementations used Purpose /
	// X-Moz instead of Sec-Purpose.
	LegacyPurpose string
}

// Collector increments the day's pageview counter for qualifying requests.
type Collector struct {
	store  *counters.Store
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewCollector creates a pageview collector writing into store, with day
// boundaries computed in loc.
func NewCollector(store *counters.Store, logger *slog.Logger, loc *time.Location) *Collector {
	return &Collector{
		store:  store,
		logger: logger,
		loc:    loc,
		now:    time.Now,
	}
}

// SetClock overrides the collector's clock; intended for tests.
func (c *Collector) SetClock(now func() time.Time) {
	c.now = now
}

// Qualifies reports whether the signal describes a genuine frontend
// pageview: a real navigation to a page path, not an admin/API/feed hit, a
// static asset, a prefetch, or a bot.
func (c *Collector) Qualifies(sig PageviewSignal) bool {
	if isReservedPath(sig.Path) {
		return false
	}
	if isPreviewRequest(sig.Query) {
		return false
	}
	if requestfilter.IsStaticAssetPath(sig.Path) {
		return false
	}
	if !requestfilter.IsNavigation(sig.SecFetchMode, sig.SecPurpose, sig.LegacyPurpose) {
		return false
	}
	if requestfilter.IsBot(sig.UserAgent) {
		return false
	}
	return true
}

// Record increments today's pageview counter by one if the signal
// qualifies. Counter failures are swallowed: losing an occasional increment
// is acceptable, interrupting page delivery is not.
func (c *Collector) Record(sig PageviewSignal) {
	if !c.Qualifies(sig) {
		return
	}

	date := stats.DateKey(c.now(), c.loc)
	if _, err := c.store.Increment(counters.PageviewKey(date), 1, counters.DayCounterTTL); err != nil {
		c.logger.Warn("Failed to record pageview",
			slog.String("date", date),
			slog.Any("error", err))
	}
}

func isReservedPath(path string) bool {
	for _, prefix := range reservedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// isPreviewRequest detects draft/preview navigations via the preview query
// flag.
func isPreviewRequest(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return false
	}
	return values.Get("preview") != ""
}
