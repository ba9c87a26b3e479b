package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel streams the rows of every visible sheet, one tab-separated line per non-empty row.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		if visible, err := f.GetSheetVisible(sheet); err == nil && !visible {
			continue
		}
		rows, err := f.Rows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %q: %w", sheet, err)
		}
		for rows.Next() {
			cells, err := rows.Columns()
			if err != nil {
				_ = rows.Close()
				return "", fmt.Errorf("sheet %q: %w", sheet, err)
			}
			if line := strings.TrimRight(strings.Join(cells, "\t"), "\t "); line != "" {
				lines = append(lines, line)
			}
		}
		if err := rows.Close(); err != nil {
			return "", fmt.Errorf("sheet %q: %w", sheet, err)
		}
	}
	return strings.Join(lines, "\n"), nil
}
