// Package ledger holds the exchange arithmetic and the derived views built
// from a single patient's records: totals, averages, filters and trends.
// Nothing here performs I/O.
package ledger

import (
	"strconv"

	"dialysis-ledger/internal/domain"
)

// Balance is the sign class of an ultrafiltration value.
// Negative uf means fluid was removed, positive means fluid was retained.
type Balance int

const (
	BalanceUnknown Balance = iota
	BalanceRemoved
	BalanceEven
	BalanceRetained
)

func (b Balance) String() string {
	switch b {
	case BalanceRemoved:
		return "removed"
	case BalanceEven:
		return "even"
	case BalanceRetained:
		return "retained"
	default:
		return "unknown"
	}
}

// UnknownUF is rendered wherever uf cannot be computed.
const UnknownUF = "--"

// UF an ultrafiltration amount that may be unknown (drain not entered yet).
type UF struct {
	Value float64
	Known bool
}

// FillVolume is what actually entered the patient: bag minus leftover.
func FillVolume(bagVolume, leftoverVolume float64) float64 {
	return bagVolume - leftoverVolume
}

// UFFromVolumes computes drain - fill; a nil drain gives an unknown UF.
func UFFromVolumes(fillVolume float64, drainVolume *float64) UF {
	if drainVolume == nil {
		return UF{}
	}
	return UF{Value: *drainVolume - fillVolume, Known: true}
}

// ComputeUF derives uf from the values entered on a PD form.
func ComputeUF(bagVolume, leftoverVolume float64, drainVolume *float64) UF {
	return UFFromVolumes(FillVolume(bagVolume, leftoverVolume), drainVolume)
}

// OrZero is the contribution of u to a sum.
func (u UF) OrZero() float64 {
	if !u.Known {
		return 0
	}
	return u.Value
}

func (u UF) Balance() Balance {
	switch {
	case !u.Known:
		return BalanceUnknown
	case u.Value < 0:
		return BalanceRemoved
	case u.Value > 0:
		return BalanceRetained
	default:
		return BalanceEven
	}
}

// String renders "--" when unknown and a leading "+" for retention.
func (u UF) String() string {
	if !u.Known {
		return UnknownUF
	}
	s := strconv.FormatFloat(u.Value, 'f', -1, 64)
	if u.Value > 0 {
		return "+" + s
	}
	return s
}

// Record is anything with a civil timestamp and a (possibly unknown) uf.
type Record interface {
	RecordedAt() domain.CivilTime
	UFValue() (float64, bool)
}

// UFOf wraps a record's uf.
func UFOf(r Record) UF {
	v, ok := r.UFValue()
	return UF{Value: v, Known: ok}
}
