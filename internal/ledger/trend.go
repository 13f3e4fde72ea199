package ledger

import (
	"fmt"
	"sort"

	"dialysis-ledger/internal/domain"
)

// Window lookback of a trend series.
type Window string

const (
	Window7Days  Window = "7days"
	Window30Days Window = "30days"
)

// ParseWindow defaults to 7 days for an empty value.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "", Window7Days:
		return Window7Days, nil
	case Window30Days:
		return Window30Days, nil
	}
	return "", fmt.Errorf("unknown trend window %q", s)
}

func (w Window) Days() int {
	if w == Window30Days {
		return 30
	}
	return 7
}

// TrendLabelLayout short calendar rendering, e.g. "May 1".
const TrendLabelLayout = "Jan 2"

// TrendPoint one charted value.
type TrendPoint struct {
	Label     string           `json:"label"`
	Value     float64          `json:"value"`
	Timestamp domain.CivilTime `json:"timestamp"`
}

// TrendSeries points ordered by time. Retention is set when any value is positive.
type TrendSeries struct {
	Window    Window       `json:"window"`
	Points    []TrendPoint `json:"points"`
	Retention bool         `json:"retention"`
}

// Empty reports the "no data" state.
func (s TrendSeries) Empty() bool { return len(s.Points) == 0 }

// BuildTrend selects records inside the window and charts their uf.
// Unknown uf is plotted as 0.
func BuildTrend[R Record](records []R, now domain.CivilTime, w Window) TrendSeries {
	window := InWindow(records, now, w.Days())
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].RecordedAt().Before(window[j].RecordedAt())
	})

	series := TrendSeries{Window: w, Points: make([]TrendPoint, 0, len(window))}
	for _, r := range window {
		v := UFOf(r).OrZero()
		if v > 0 {
			series.Retention = true
		}
		at := r.RecordedAt()
		series.Points = append(series.Points, TrendPoint{
			Label:     at.Time().Format(TrendLabelLayout),
			Value:     v,
			Timestamp: at,
		})
	}
	return series
}
