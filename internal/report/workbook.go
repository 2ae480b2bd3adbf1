package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/yourorg/loadcore/internal/stats"
	"github.com/yourorg/loadcore/pkg/types"
)

const summarySheet = "Summary"

// WriteWorkbook writes a Summary sheet followed by one sheet per stat table.
func WriteWorkbook(path string, summaries []types.StatSummary, tables []stats.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("workbook: %w", err)
	}
	if err := setRow(f, summarySheet, 1, []any{"View", "Column", "Summary", "Value"}); err != nil {
		return err
	}
	for i, s := range summaries {
		if err := setRow(f, summarySheet, i+2, []any{s.View, s.Column, s.Summary, s.Value}); err != nil {
			return err
		}
	}

	used := map[string]bool{summarySheet: true}
	for _, t := range tables {
		name := sheetName(t.Name, used)
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("workbook: sheet %s: %w", name, err)
		}
		header := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			header[i] = c
		}
		if err := setRow(f, name, 1, header); err != nil {
			return err
		}
		for r, row := range t.Rows {
			if err := setRow(f, name, r+2, cells(row)); err != nil {
				return err
			}
		}
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("workbook: %w", err)
	}
	if idx, err := f.GetSheetIndex(summarySheet); err == nil {
		f.SetActiveSheet(idx)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("workbook: %s row %d: %w", sheet, row, err)
	}
	return nil
}

// Numeric strings become numbers so spreadsheets can chart them.
func cells(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[i] = n
			continue
		}
		out[i] = v
	}
	return out
}

// sheetName trims to Excel's 31 character limit, drops forbidden characters
// and keeps names unique.
func sheetName(name string, used map[string]bool) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, name)
	if clean == "" {
		clean = "Sheet"
	}
	if len(clean) > 31 {
		clean = clean[:31]
	}
	base, n := clean, 2
	for used[strings.ToLower(clean)] || used[clean] {
		suffix := fmt.Sprintf("~%d", n)
		if len(base)+len(suffix) > 31 {
			clean = base[:31-len(suffix)] + suffix
		} else {
			clean = base + suffix
		}
		n++
	}
	used[clean] = true
	used[strings.ToLower(clean)] = true
	return clean
}
