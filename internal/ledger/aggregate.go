package ledger

import "dialysis-ledger/internal/domain"

// DailyTotal sums uf over records stamped on the civil date day (YYYY-MM-DD).
// The stored wall clock decides the day; no zone is applied.
func DailyTotal[R Record](records []R, day string) float64 {
	var total float64
	for _, r := range records {
		if r.RecordedAt().Date() == day {
			total += UFOf(r).OrZero()
		}
	}
	return total
}

// WindowStart is 00:00 of the civil date windowDays before now.
func WindowStart(now domain.CivilTime, windowDays int) domain.CivilTime {
	return now.AddDays(-windowDays).StartOfDay()
}

// InWindow keeps records at or after WindowStart(now, windowDays), preserving order.
func InWindow[R Record](records []R, now domain.CivilTime, windowDays int) []R {
	start := WindowStart(now, windowDays)
	out := make([]R, 0, len(records))
	for _, r := range records {
		if !r.RecordedAt().Before(start) {
			out = append(out, r)
		}
	}
	return out
}

// RollingAverage is the mean uf over the trailing window; 0 for an empty window.
// Records with unknown uf count toward the divisor and add 0.
func RollingAverage[R Record](records []R, now domain.CivilTime, windowDays int) float64 {
	window := InWindow(records, now, windowDays)
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, r := range window {
		sum += UFOf(r).OrZero()
	}
	return sum / float64(len(window))
}

// DayGroup the records of one civil date, in input order.
type DayGroup[R Record] struct {
	Date    string  `json:"date"`
	Records []R     `json:"records"`
	TotalUF float64 `json:"total_uf"`
}

// GroupByCivilDate partitions records by civil date.
// Groups appear in order of first occurrence and every record lands in exactly one group.
func GroupByCivilDate[R Record](records []R) []DayGroup[R] {
	index := make(map[string]int)
	var groups []DayGroup[R]
	for _, r := range records {
		date := r.RecordedAt().Date()
		i, ok := index[date]
		if !ok {
			i = len(groups)
			index[date] = i
			groups = append(groups, DayGroup[R]{Date: date})
		}
		groups[i].Records = append(groups[i].Records, r)
		groups[i].TotalUF += UFOf(r).OrZero()
	}
	return groups
}
