// Package export renders a user's credit ledger as an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/digkill/skechum/internal/models"
)

const (
	SheetName   = "Credits"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var headers = []string{"No", "Date", "Time", "Type", "Amount", "Balance before", "Balance after", "Payment", "Reference"}

// WriteCreditLogs writes logs to w, one row per ledger entry in the given order.
func WriteCreditLogs(w io.Writer, logs []models.CreditLog) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4F46E5"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	creditStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "#10B981"}})
	if err != nil {
		return fmt.Errorf("credit style: %w", err)
	}
	debitStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "#EF4444"}})
	if err != nil {
		return fmt.Errorf("debit style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetCellStyle(SheetName, "A1", lastCol+"1", headerStyle)

	for i, l := range logs {
		row := i + 2
		values := []any{
			i + 1,
			l.CreatedAt.UTC().Format("2006-01-02"),
			l.CreatedAt.UTC().Format("15:04"),
			strings.ToUpper(string(l.Type)),
			l.Amount,
			l.BalanceBefore,
			l.BalanceAfter,
			l.PaymentID,
			l.Reference,
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetName, start, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}

		style := creditStyle
		if l.Amount < 0 {
			style = debitStyle
		}
		_ = f.SetCellStyle(SheetName, fmt.Sprintf("D%d", row), fmt.Sprintf("E%d", row), style)
	}

	_ = f.SetColWidth(SheetName, "A", "A", 5)
	_ = f.SetColWidth(SheetName, "B", "D", 12)
	_ = f.SetColWidth(SheetName, "E", "G", 15)
	_ = f.SetColWidth(SheetName, "H", "I", 36)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// FileName is the attachment name for an export generated on the given day.
func FileName(day string) string {
	return fmt.Sprintf("skechum-credits-%s.xlsx", day)
}
