// Package ingest turns uploaded files into uniform row sequences and
// summarizes them for prompts.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

type Kind int

const (
	KindRows Kind = iota + 1
	KindSheets
	KindText
)

// Sheet is one named worksheet of a workbook.
type Sheet struct {
	Name string
	Rows []Row
}

// Dataset is the result of parsing one file. Exactly one of Rows, Sheets or
// Text is meaningful, selected by Kind.
type Dataset struct {
	Kind   Kind
	Rows   []Row
	Sheets []Sheet
	Text   string
}

// FirstRows returns the row sequence, or the first sheet's rows for a workbook.
func (d Dataset) FirstRows() []Row {
	switch d.Kind {
	case KindRows:
		return d.Rows
	case KindSheets:
		if len(d.Sheets) > 0 {
			return d.Sheets[0].Rows
		}
	}
	return nil
}

// RowCount is the number of rows across every sheet.
func (d Dataset) RowCount() int {
	switch d.Kind {
	case KindRows:
		return len(d.Rows)
	case KindSheets:
		n := 0
		for _, s := range d.Sheets {
			n += len(s.Rows)
		}
		return n
	}
	return 0
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse picks a decoder by the lowercase file extension.
func Parse(fileName string, content []byte) (Dataset, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		rows, err := parseCSV(content)
		if err != nil {
			return Dataset{}, err
		}
		return Dataset{Kind: KindRows, Rows: rows}, nil
	case ".xlsx":
		sheets, err := parseXLSX(content)
		if err != nil {
			return Dataset{}, err
		}
		return Dataset{Kind: KindSheets, Sheets: sheets}, nil
	case ".xls":
		sheets, err := parseXLS(content)
		if err != nil {
			return Dataset{}, err
		}
		return Dataset{Kind: KindSheets, Sheets: sheets}, nil
	case ".json":
		rows, err := parseJSON(content)
		if err != nil {
			return Dataset{}, err
		}
		return Dataset{Kind: KindRows, Rows: rows}, nil
	case ".txt":
		return Dataset{Kind: KindText, Text: strings.ToValidUTF8(string(content), "�")}, nil
	}
	return Dataset{}, fmt.Errorf("%w: %q", ErrUnsupportedFileType, fileName)
}

func parseJSON(content []byte) ([]Row, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !gjson.ValidBytes(content) {
		return nil, errors.New("invalid json document")
	}
	res := gjson.ParseBytes(content)
	if !res.IsArray() {
		return []Row{rowFromValue(res)}, nil
	}
	rows := []Row{}
	res.ForEach(func(_, value gjson.Result) bool {
		rows = append(rows, rowFromValue(value))
		return true
	})
	return rows, nil
}

func rowFromValue(res gjson.Result) Row {
	if res.IsObject() {
		return rowFromObject(res)
	}
	return NewRow("value", res.Value())
}
