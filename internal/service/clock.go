package service

import (
	"time"

	"dialysis-ledger/internal/domain"
)

// Clock reads "now" in the ledger's timezone and hands it out as civil time.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: time.Now}
}

// FixedClock always reports at, read in UTC.
func FixedClock(at time.Time) *Clock {
	return &Clock{loc: time.UTC, now: func() time.Time { return at }}
}

// Now the current wall-clock reading in the configured zone.
func (c *Clock) Now() domain.CivilTime {
	return domain.CivilFrom(c.now().In(c.loc))
}

// Instant the current absolute time, for object names and token expiry.
func (c *Clock) Instant() time.Time { return c.now() }
