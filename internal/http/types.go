package httpapi

import "dialysis-ledger/internal/ledger"

// TrendResponse carries the "no data" state explicitly next to the points.
type TrendResponse struct {
	*ledger.TrendSeries
	Empty bool `json:"empty"`
}
