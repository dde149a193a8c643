// Package export serializes a line-item table into a downloadable
// spreadsheet.
package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/cadboq/internal/boq"
)

// Artifact naming and encoding.
const (
	FileName    = "CAD_BOQ_Report.xlsx"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	SheetName   = "BOQ"

	GrandTotalLabel = "Grand Total"
)

// Headers are the column labels of the first row.
var Headers = []string{"Item No", "Component", "Description", "Quantity", "Unit", "Rate", "Total"}

// numFmtMoney is excelize's built-in "#,##0.00".
const numFmtMoney = 4

// Artifact is a rendered export ready to be sent to the user agent.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Render writes the table as an XLSX workbook: a header row, one row per item
// in table order, then a summary row carrying the grand total.
func Render(t boq.Table) (*Artifact, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("export.xlsx.close_error", "error", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: numFmtMoney})
	if err != nil {
		return nil, fmt.Errorf("money style: %w", err)
	}
	boldMoney, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: numFmtMoney})
	if err != nil {
		return nil, fmt.Errorf("total style: %w", err)
	}

	for i, h := range Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	_ = f.SetCellStyle(SheetName, "A1", "G1", bold)

	row := 2
	for _, item := range t.Items() {
		values := []any{
			item.ItemNo,
			item.Component,
			item.Description,
			item.Quantity,
			item.Unit,
			item.Rate,
			item.Total,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
		row++
	}
	if row > 2 {
		last := fmt.Sprintf("G%d", row-1)
		_ = f.SetCellStyle(SheetName, "F2", last, money)
	}

	// Summary row: ['', '', '', '', '', 'Grand Total', total]
	labelCell, _ := excelize.CoordinatesToCellName(6, row)
	totalCell, _ := excelize.CoordinatesToCellName(7, row)
	if err := f.SetCellValue(SheetName, labelCell, GrandTotalLabel); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	if err := f.SetCellValue(SheetName, totalCell, t.GrandTotal()); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	_ = f.SetCellStyle(SheetName, labelCell, labelCell, bold)
	_ = f.SetCellStyle(SheetName, totalCell, totalCell, boldMoney)

	_ = f.SetColWidth(SheetName, "A", "A", 10) // item no
	_ = f.SetColWidth(SheetName, "B", "B", 22) // component
	_ = f.SetColWidth(SheetName, "C", "C", 48) // description
	_ = f.SetColWidth(SheetName, "D", "E", 12) // quantity, unit
	_ = f.SetColWidth(SheetName, "F", "G", 16) // money

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	slog.Info("export.xlsx.ok",
		"rows", t.Len(),
		"grand_total", t.GrandTotal(),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return &Artifact{
		Name:        FileName,
		ContentType: ContentType,
		Data:        buf.Bytes(),
	}, nil
}
