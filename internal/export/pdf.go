package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

var pdfWidths = []float64{22, 18, 10, 16, 18, 18, 16, 20, 52}

// HistoryPDF a landscape A4 table, one block per civil date.
func HistoryPDF(h History) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, tr(fmt.Sprintf("Dialysis history: %s", h.Patient)))
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 8, fmt.Sprintf("Generated %s %s", h.GeneratedAt.Date(), h.GeneratedAt.Clock()))
	pdf.Ln(12)

	header := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 243, 255)
		for i, title := range historyHeader {
			pdf.CellFormat(pdfWidths[i], 7, title, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
	}
	header()

	if len(h.Groups) == 0 {
		pdf.CellFormat(0, 8, "No exchanges recorded.", "", 1, "L", false, 0, "")
	}
	for _, g := range h.Groups {
		for _, r := range g.Rows {
			cells := []string{g.Date, r.Time, r.Kind, r.Strength, r.Fill, r.Drain, r.UF.String(), r.Weight, r.Notes}
			for i, c := range cells {
				pdf.CellFormat(pdfWidths[i], 6, tr(truncate(c, 40)), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.SetFont("Arial", "BI", 9)
		pdf.CellFormat(pdfWidths[0]+pdfWidths[1], 6, fmt.Sprintf("%s total", g.Date), "1", 0, "L", false, 0, "")
		pdf.CellFormat(pdfWidths[2]+pdfWidths[3]+pdfWidths[4]+pdfWidths[5], 6, "", "1", 0, "L", false, 0, "")
		pdf.CellFormat(pdfWidths[6], 6, total(g.TotalUF), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
