package ledger

import (
	"math"

	"dialysis-ledger/internal/domain"
)

// WeightCategory classifies a weight against the mean of the set.
type WeightCategory string

const (
	WeightAny     WeightCategory = ""
	WeightBelow   WeightCategory = "below"
	WeightAverage WeightCategory = "average"
	WeightAbove   WeightCategory = "above"
)

// WeightBand is the half-width (kg) of the "average" band around the mean.
const WeightBand = 0.5

func (c WeightCategory) Valid() bool {
	switch c {
	case WeightAny, WeightBelow, WeightAverage, WeightAbove:
		return true
	}
	return false
}

// Filterable records carry weight and strength besides uf.
type Filterable interface {
	Record
	WeightKg() (float64, bool)
	Strength() domain.Strength
}

// FilterConfig the recognised filter options. Zero values impose no constraint.
type FilterConfig struct {
	WeightCategory WeightCategory  `json:"weight_category,omitempty"`
	UFMin          *float64        `json:"uf_min,omitempty"`
	UFMax          *float64        `json:"uf_max,omitempty"`
	Strength       domain.Strength `json:"strength,omitempty"`
	Date           string          `json:"date,omitempty"`
}

func (c FilterConfig) IsZero() bool {
	return c.WeightCategory == WeightAny && c.UFMin == nil && c.UFMax == nil && c.Strength == "" && c.Date == ""
}

// MeanWeight averages the known weights; ok is false when none are known.
func MeanWeight[R Filterable](records []R) (mean float64, ok bool) {
	var sum float64
	var n int
	for _, r := range records {
		w, known := r.WeightKg()
		if !known || math.IsNaN(w) {
			continue
		}
		sum += w
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// ClassifyWeight places w relative to mean with a ±WeightBand tolerance.
func ClassifyWeight(w, mean float64) WeightCategory {
	switch {
	case w < mean-WeightBand:
		return WeightBelow
	case w > mean+WeightBand:
		return WeightAbove
	default:
		return WeightAverage
	}
}

// Filter returns the records matching every predicate of cfg, in input order.
// The weight mean is taken across the whole input. records is not modified.
func Filter[R Filterable](records []R, cfg FilterConfig) []R {
	mean, haveMean := MeanWeight(records)
	out := make([]R, 0, len(records))
	for _, r := range records {
		if matches(r, cfg, mean, haveMean) {
			out = append(out, r)
		}
	}
	return out
}

func matches[R Filterable](r R, cfg FilterConfig, mean float64, haveMean bool) bool {
	if cfg.WeightCategory != WeightAny {
		w, ok := r.WeightKg()
		if !ok || math.IsNaN(w) || !haveMean {
			return false
		}
		if ClassifyWeight(w, mean) != cfg.WeightCategory {
			return false
		}
	}
	if cfg.UFMin != nil || cfg.UFMax != nil {
		uf, ok := r.UFValue()
		if !ok {
			return false
		}
		if cfg.UFMin != nil && uf < *cfg.UFMin {
			return false
		}
		if cfg.UFMax != nil && uf > *cfg.UFMax {
			return false
		}
	}
	if cfg.Strength != "" && r.Strength() != cfg.Strength {
		return false
	}
	if cfg.Date != "" && r.RecordedAt().Date() != cfg.Date {
		return false
	}
	return true
}

// FilterSession stages a configuration and only applies it on Apply.
type FilterSession struct {
	pending FilterConfig
	applied FilterConfig
	active  bool
}

// Stage replaces the pending configuration. The visible set does not change.
func (s *FilterSession) Stage(cfg FilterConfig) { s.pending = cfg }

// Apply makes the pending configuration the active one.
func (s *FilterSession) Apply() {
	s.applied = s.pending
	s.active = true
}

// Clear resets both configurations and returns to the unfiltered view.
func (s *FilterSession) Clear() { *s = FilterSession{} }

func (s *FilterSession) Pending() FilterConfig { return s.pending }
func (s *FilterSession) Applied() FilterConfig { return s.applied }
func (s *FilterSession) Active() bool          { return s.active }

// Visible returns the records the session currently shows.
func Visible[R Filterable](s *FilterSession, records []R) []R {
	if s == nil || !s.active {
		return records
	}
	return Filter(records, s.applied)
}
