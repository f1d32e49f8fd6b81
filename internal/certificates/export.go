package certificates

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// WriteStatisticsXLSX writes a one-sheet Excel workbook with the aggregated
// certificate statistics.
func WriteStatisticsXLSX(stats *Statistics, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Statistics"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	if err := f.SetSheetRow(sheet, "A1", &[]interface{}{"Metric", "Value"}); err != nil {
		return fmt.Errorf("writing header row: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("styling header row: %w", err)
	}

	rows := []struct {
		label string
		value int64
	}{
		{"Total certificates", stats.Total},
		{"Draft", stats.Draft},
		{"Pending approval", stats.Pending},
		{"Approved", stats.Approved},
		{"Rejected", stats.Rejected},
		{"Issued", stats.Issued},
		{"Revoked", stats.Revoked},
		{"Total verifications", stats.TotalVerifications},
		{"Total shares", stats.TotalShares},
		{"Total token accesses", stats.TotalAccesses},
	}
	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheet, cell, &[]interface{}{row.label, row.value}); err != nil {
			return fmt.Errorf("writing row %q: %w", row.label, err)
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 28); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
