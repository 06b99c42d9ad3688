package impl

import (
	"fmt"
	"log"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rms-knowledge-service/models"
)

const (
	// maxSheetRows bounds how many rows of one sheet reach the chunker.
	maxSheetRows = 200
	// headerScanRows is how deep we look for a probable header row.
	headerScanRows = 3
	// headerDensity is the share of non-empty cells a header row must have.
	headerDensity = 0.5
)

// parseExcel emits one table block per sheet: the sheet name, a probable
// header row, then the data rows. A sheet that fails to read becomes an
// error block; the remaining sheets still parse.
func parseExcel(filePath string) (*models.ParseOutcome, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	outcome := &models.ParseOutcome{ParserName: "excel"}

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			log.Printf("[WARN] failed to read sheet %q: %v", sheet, err)
			outcome.Blocks = append(outcome.Blocks, models.ContentBlock{
				Kind:      models.ChunkTypeError,
				Content:   fmt.Sprintf("Не удалось прочитать лист «%s»", sheet),
				SheetName: sheet,
			})
			continue
		}
		if block, ok := sheetBlock(sheet, rows); ok {
			outcome.Blocks = append(outcome.Blocks, block)
		}
	}

	return outcome, nil
}

func sheetBlock(sheet string, rows [][]string) (models.ContentBlock, bool) {
	if len(rows) > maxSheetRows {
		rows = rows[:maxSheetRows]
	}

	headerIdx := findHeaderRow(rows)

	parts := []string{fmt.Sprintf("Лист: %s", sheet)}
	if headerIdx >= 0 {
		parts = append(parts, "Заголовки: "+strings.Join(compactCells(rows[headerIdx]), " | "))
	}

	rowNum := 0
	for i, row := range rows {
		if i == headerIdx {
			continue
		}
		cells := compactCells(row)
		if len(cells) == 0 {
			continue
		}
		rowNum++
		parts = append(parts, fmt.Sprintf("Строка %d: %s", rowNum, strings.Join(cells, " | ")))
	}

	if rowNum == 0 && headerIdx < 0 {
		return models.ContentBlock{}, false
	}

	return models.ContentBlock{
		Kind:      models.ChunkTypeTable,
		Content:   strings.Join(parts, "\n"),
		SheetName: sheet,
	}, true
}

// findHeaderRow returns the first of the leading rows that is dense enough to
// be a header, or -1 when none qualifies.
func findHeaderRow(rows [][]string) int {
	limit := len(rows)
	if limit > headerScanRows {
		limit = headerScanRows
	}
	for i := 0; i < limit; i++ {
		if len(rows[i]) == 0 {
			continue
		}
		filled := 0
		for _, cell := range rows[i] {
			if strings.TrimSpace(cell) != "" {
				filled++
			}
		}
		if float64(filled) > float64(len(rows[i]))*headerDensity {
			return i
		}
	}
	return -1
}

func compactCells(row []string) []string {
	var cells []string
	for _, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			cells = append(cells, cell)
		}
	}
	return cells
}
