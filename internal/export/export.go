// Package export renders a patient's history as downloadable files.
package export

import (
	"fmt"
	"strconv"

	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/ledger"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatXLSX, "":
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Filename e.g. "dialysis-history-2024-05-01.xlsx".
func (f Format) Filename(generated domain.CivilTime) string {
	return fmt.Sprintf("dialysis-history-%s.%s", generated.Date(), f)
}

// Row one exchange, already rendered for display.
type Row struct {
	Time     string
	Kind     string
	Strength string
	Fill     string
	Drain    string
	UF       ledger.UF
	Weight   string
	Notes    string
}

type Group struct {
	Date    string
	TotalUF float64
	Rows    []Row
}

type History struct {
	Patient     string
	GeneratedAt domain.CivilTime
	Groups      []Group
}

var historyHeader = []string{"Date", "Time", "Type", "Strength", "Fill (mL)", "Drain (mL)", "UF", "Weight (kg)", "Notes"}

// Render dispatches on format.
func Render(f Format, h History) ([]byte, error) {
	switch f {
	case FormatPDF:
		return HistoryPDF(h)
	default:
		return HistoryXLSX(h)
	}
}

// Number renders an optional quantity, "--" when unknown.
func Number(v *float64) string {
	if v == nil {
		return ledger.UnknownUF
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func total(v float64) string {
	return ledger.UF{Value: v, Known: true}.String()
}
