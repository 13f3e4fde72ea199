package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CivilLayout is the stored wall-clock form of exchange timestamps.
const CivilLayout = "2006-01-02T15:04:05"

// DateLayout is the civil date key used for grouping and day filters.
const DateLayout = "2006-01-02"

// CivilTime is a wall-clock reading with no zone attached.
// The embedded time is always in UTC; the UTC offset carries no meaning.
type CivilTime struct {
	t time.Time
}

// NewCivil builds a civil time from calendar fields.
func NewCivil(year int, month time.Month, day, hour, min, sec int) CivilTime {
	return CivilTime{t: time.Date(year, month, day, hour, min, sec, 0, time.UTC)}
}

// CivilFrom keeps the wall clock of t as read in t's own location.
func CivilFrom(t time.Time) CivilTime {
	return NewCivil(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// ParseCivil reads "YYYY-MM-DDTHH:MM[:SS]" (a space may replace the T).
// Anything after the seconds (fractions, zone designators) is dropped without conversion.
func ParseCivil(s string) (CivilTime, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 11 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	switch {
	case len(s) == len(DateLayout):
		s += "T00:00:00"
	case len(s) == 16:
		s += ":00"
	case len(s) > 19:
		s = s[:19]
	}
	t, err := time.ParseInLocation(CivilLayout, s, time.UTC)
	if err != nil {
		return CivilTime{}, fmt.Errorf("invalid civil timestamp %q: %w", s, err)
	}
	return CivilTime{t: t}, nil
}

// MustParseCivil is ParseCivil for literals.
func MustParseCivil(s string) CivilTime {
	c, err := ParseCivil(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CivilTime) IsZero() bool { return c.t.IsZero() }

// Date returns the civil date key (YYYY-MM-DD).
func (c CivilTime) Date() string { return c.t.Format(DateLayout) }

// Clock returns HH:MM.
func (c CivilTime) Clock() string { return c.t.Format("15:04") }

// Clock12 returns h:MM AM/PM.
func (c CivilTime) Clock12() string { return c.t.Format("3:04 PM") }

func (c CivilTime) String() string { return c.t.Format(CivilLayout) }

// Time exposes the reading as a UTC time for arithmetic and storage.
func (c CivilTime) Time() time.Time { return c.t }

func (c CivilTime) Before(o CivilTime) bool { return c.t.Before(o.t) }
func (c CivilTime) After(o CivilTime) bool  { return c.t.After(o.t) }
func (c CivilTime) Equal(o CivilTime) bool  { return c.t.Equal(o.t) }

// AddDays moves by whole calendar days.
func (c CivilTime) AddDays(n int) CivilTime { return CivilTime{t: c.t.AddDate(0, 0, n)} }

// StartOfDay truncates to 00:00:00 of the same civil date.
func (c CivilTime) StartOfDay() CivilTime {
	y, m, d := c.t.Date()
	return NewCivil(y, m, d, 0, 0, 0)
}

func (c CivilTime) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(c.String())
}

func (c *CivilTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = CivilTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*c = CivilTime{}
		return nil
	}
	parsed, err := ParseCivil(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Scan reads a "timestamp without time zone" column.
func (c *CivilTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = CivilTime{}
		return nil
	case time.Time:
		*c = CivilFrom(v)
		return nil
	case []byte:
		parsed, err := ParseCivil(string(v))
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	case string:
		parsed, err := ParseCivil(v)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into CivilTime", src)
	}
}

// Value writes the civil string so the driver never applies a zone.
func (c CivilTime) Value() (driver.Value, error) {
	if c.IsZero() {
		return nil, nil
	}
	return c.String(), nil
}
