package alerts

import (
	"fmt"
	"log/slog"
	"math"

	"gorm.io/gorm"

	"sitealerts/internal/stats"
)

// Rule thresholds. Ratios compare a day's pageviews against the rolling
// baseline; the 404 rule has an absolute floor so near-zero baselines don't
// flag ordinary noise.
const (
	trafficDropRatio     = 0.7
	trafficSpikeRatio    = 1.5
	criticalDropPct      = 40
	notFoundQuietAvg     = 3
	notFoundAbsoluteMin  = 10
	notFoundRelativeMult = 2
)

// Engine evaluates the anomaly rules for one day and records the resulting
// alerts. It is safe to run repeatedly for the same date: every creation
// goes through the (date, type) conditional insert.
type Engine struct {
	db     *gorm.DB
	logger *slog.Logger
	window int
}

// NewEngine creates a rule engine over the given connection.
func NewEngine(db *gorm.DB, logger *slog.Logger) *Engine {
	return &Engine{
		db:     db,
		logger: logger,
		window: stats.BaselineWindowDays,
	}
}

// GenerateForDay evaluates all rules for date. If fewer than a full
// baseline window of prior days exists, no alerts are generated at all;
// thin history would make every early day look anomalous.
func (e *Engine) GenerateForDay(date string) error {
	day, err := stats.GetDay(e.db, date)
	if err != nil {
		return err
	}
	if day == nil {
		day = &stats.DailyStat{Date: date}
	}

	baseline, err := stats.ComputeBaseline(e.db, date, e.window)
	if err != nil {
		return err
	}
	if baseline.SampleCount < e.window {
		e.logger.Debug("Skipping alert generation, insufficient history",
			slog.String("date", date),
			slog.Int("sample_count", baseline.SampleCount),
			slog.Int("window", e.window))
		return nil
	}

	if err := e.evaluateTraffic(date, day, baseline); err != nil {
		return err
	}
	return e.evaluateNotFound(date, day, baseline)
}

// evaluateTraffic covers the drop and spike rules. They are mutually
// exclusive: the ratio cannot be below 0.7 and above 1.5 at once.
func (e *Engine) evaluateTraffic(date string, day *stats.DailyStat, baseline stats.Baseline) error {
	if baseline.AvgPageviews <= 0 {
		return nil
	}

	ratio := float64(day.Pageviews) / baseline.AvgPageviews
	changePct := round2((ratio - 1) * 100)
	meta := TrafficMeta{
		Today:     day.Pageviews,
		Avg7:      int64(math.Round(baseline.AvgPageviews)),
		ChangePct: changePct,
	}

	switch {
	case ratio < trafficDropRatio:
		severity := SeverityWarning
		if math.Abs(changePct) >= criticalDropPct {
			severity = SeverityCritical
		}
		return e.create(&Alert{
			Date:     date,
			Type:     TypeTrafficDrop,
			Severity: severity,
			Title:    fmt.Sprintf("Traffic drop on %s", date),
			Message: fmt.Sprintf("Pageviews fell %.2f%% below the %d-day average (%d vs %d).",
				math.Abs(changePct), e.window, day.Pageviews, meta.Avg7),
		}, meta)

	case ratio > trafficSpikeRatio:
		return e.create(&Alert{
			Date:     date,
			Type:     TypeTrafficSpike,
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("Traffic spike on %s", date),
			Message: fmt.Sprintf("Pageviews rose %.2f%% above the %d-day average (%d vs %d).",
				changePct, e.window, day.Pageviews, meta.Avg7),
		}, meta)
	}

	return nil
}

func (e *Engine) evaluateNotFound(date string, day *stats.DailyStat, baseline stats.Baseline) error {
	today := day.Errors404
	if today <= 0 {
		return nil
	}

	triggered := false
	if baseline.Avg404 < notFoundQuietAvg {
		triggered = today >= notFoundAbsoluteMin
	} else {
		triggered = float64(today) > notFoundRelativeMult*baseline.Avg404
	}
	if !triggered {
		return nil
	}

	var changePct *float64
	if baseline.Avg404 > 0 {
		pct := round2((float64(today)/baseline.Avg404 - 1) * 100)
		changePct = &pct
	}

	top := stats.DecodeTop404(day.Top404)
	meta := NotFoundMeta{
		Today:     today,
		Avg7:      int64(math.Round(baseline.Avg404)),
		ChangePct: changePct,
		Top:       top,
	}

	message := fmt.Sprintf("%d not-found responses recorded (%d-day average %d).",
		today, e.window, meta.Avg7)
	if len(top) > 0 {
		message = fmt.Sprintf("%s Most affected path: %s (%d hits).",
			message, top[0].Path, top[0].Count)
	}

	return e.create(&Alert{
		Date:     date,
		Type:     TypeError404Spike,
		Severity: SeverityWarning,
		Title:    fmt.Sprintf("404 surge on %s", date),
		Message:  message,
	}, meta)
}

func (e *Engine) create(alert *Alert, meta any) error {
	encoded, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	alert.Meta = encoded

	created, err := CreateIfAbsent(e.logger, e.db, alert)
	if err != nil {
		return err
	}
	if created {
		e.logger.Info("Alert created",
			slog.String("date", alert.Date),
			slog.String("type", string(alert.Type)),
			slog.String("severity", string(alert.Severity)))
	}
	return nil
}

// round2 rounds to two decimal places, matching the precision stored in
// alert metadata.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
