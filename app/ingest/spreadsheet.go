package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

const emptyHeader = "__EMPTY"

var numericCell = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

func parseCSV(content []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return tableRows(records), nil
}

func parseXLSX(content []byte) ([]Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		records, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		sheets = append(sheets, Sheet{Name: name, Rows: tableRows(records)})
	}
	return sheets, nil
}

func parseXLS(content []byte) (sheets []Sheet, err error) {
	// the BIFF reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			sheets, err = nil, fmt.Errorf("open legacy workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(content), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open legacy workbook: %w", err)
	}
	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		records := make([][]string, 0, int(ws.MaxRow)+1)
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				records = append(records, nil)
				continue
			}
			cells := make([]string, row.LastCol())
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				cells[c] = row.Col(c)
			}
			records = append(records, cells)
		}
		sheets = append(sheets, Sheet{Name: ws.Name, Rows: tableRows(records)})
	}
	return sheets, nil
}

// tableRows treats the first non-blank record as the header and turns every
// later non-blank record into a row keyed by header cell values.
func tableRows(records [][]string) []Row {
	rows := []Row{}
	start := -1
	for i, rec := range records {
		if !blankRecord(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return rows
	}

	header := headerKeys(records[start])
	for _, rec := range records[start+1:] {
		if blankRecord(rec) {
			continue
		}
		var row Row
		for c, cell := range rec {
			if cell == "" {
				continue
			}
			key := columnKey(header, c)
			row.Set(key, cellValue(cell))
		}
		rows = append(rows, row)
	}
	return rows
}

func headerKeys(rec []string) []string {
	keys := make([]string, len(rec))
	seen := make(map[string]int, len(rec))
	for i, cell := range rec {
		name := cell
		if strings.TrimSpace(name) == "" {
			name = emptyHeader
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n)
		} else {
			seen[name] = 1
		}
		keys[i] = name
	}
	return keys
}

// columnKey names cells that sit past the end of the header row.
func columnKey(header []string, c int) string {
	if c < len(header) {
		return header[c]
	}
	return fmt.Sprintf("%s_%d", emptyHeader, c)
}

func cellValue(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if numericCell.MatchString(trimmed) {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	}
	switch strings.ToUpper(trimmed) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return cell
}

func blankRecord(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
