package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ParsedRow is one data row from the spreadsheet, keyed by header cell.
// Number is the Excel row number: data starts at 2 because Excel rows are
// 1-indexed and row 1 holds the headers.
type ParsedRow struct {
	Number int
	Cells  map[string]string
}

// ParseSheet reads the first sheet of an XLSX file. The first row supplies
// the column headers; blank rows are dropped but numbering stays physical so
// reported row numbers match what the operator sees in Excel.
func ParseSheet(path string) ([]ParsedRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: workbook has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	headers := rowToStrings(sheet.Rows[0])

	var rows []ParsedRow
	for i, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		if blankRow(cells) {
			continue
		}

		mapped := make(map[string]string, len(headers))
		for j, h := range headers {
			h = strings.TrimSpace(h)
			if h == "" || j >= len(cells) {
				continue
			}
			mapped[h] = cells[j]
		}
		rows = append(rows, ParsedRow{Number: i + 2, Cells: mapped})
	}
	return rows, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
