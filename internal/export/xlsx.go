package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const historySheet = "History"

// HistoryXLSX one header row, then per civil date its exchanges followed by a day-total row.
func HistoryXLSX(h History) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(historySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	totalStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Italic: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create total style: %w", err)
	}

	if err := f.SetSheetRow(historySheet, "A1", &historyHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(historyHeader))
	if err := f.SetCellStyle(historySheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	widths := []float64{12, 10, 6, 10, 10, 10, 8, 12, 40}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column: %w", err)
		}
		if err := f.SetColWidth(historySheet, col, col, w); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	rowNum := 2
	for _, g := range h.Groups {
		for _, r := range g.Rows {
			cell, _ := excelize.CoordinatesToCellName(1, rowNum)
			values := []any{g.Date, r.Time, r.Kind, r.Strength, r.Fill, r.Drain, r.UF.String(), r.Weight, r.Notes}
			if err := f.SetSheetRow(historySheet, cell, &values); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", rowNum, err)
			}
			rowNum++
		}

		labelCell, _ := excelize.CoordinatesToCellName(1, rowNum)
		values := []any{g.Date, "Total", "", "", "", "", total(g.TotalUF)}
		if err := f.SetSheetRow(historySheet, labelCell, &values); err != nil {
			return nil, fmt.Errorf("failed to write total row: %w", err)
		}
		endCell, _ := excelize.CoordinatesToCellName(len(values), rowNum)
		if err := f.SetCellStyle(historySheet, labelCell, endCell, totalStyle); err != nil {
			return nil, fmt.Errorf("failed to set total style: %w", err)
		}
		rowNum++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
