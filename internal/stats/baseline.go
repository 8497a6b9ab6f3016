package stats

import (
	"fmt"

	"gorm.io/gorm"
)

// BaselineWindowDays is the default number of prior days averaged.
const BaselineWindowDays = 7

// Baseline holds the rolling averages for the days preceding a reference
// date. SampleCount tells the caller how many rows actually contributed;
// near activation time it may be fewer than the requested window, and the
// alert engine gates on it.
type Baseline struct {
	SampleCount  int
	AvgPageviews float64
	Avg404       float64
}

// ComputeBaseline averages pageviews and 404 counts over the window most
// recent rows dated strictly before referenceDate. The reference date itself
// is never included, so a day is never judged against its own numbers.
func ComputeBaseline(db *gorm.DB, referenceDate string, window int) (Baseline, error) {
	if window <= 0 {
		window = BaselineWindowDays
	}

	rows, err := History(db, referenceDate, window)
	if err != nil {
		return Baseline{}, fmt.Errorf("failed to compute baseline for %s: %w", referenceDate, err)
	}
	if len(rows) == 0 {
		return Baseline{}, nil
	}

	var pageviews, errors404 int64
	for _, row := range rows {
		pageviews += row.Pageviews
		errors404 += row.Errors404
	}

	n := float64(len(rows))
	return Baseline{
		SampleCount:  len(rows),
		AvgPageviews: float64(pageviews) / n,
		Avg404:       float64(errors404) / n,
	}, nil
}
