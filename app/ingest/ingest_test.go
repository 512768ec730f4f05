package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseCSVScenario(t *testing.T) {
	ds, err := Parse("Data.CSV", []byte("name,value\na,1\nb,2\nc,3"))
	require.NoError(t, err)
	require.Equal(t, KindRows, ds.Kind)
	require.Len(t, ds.Rows, 3)

	for _, row := range ds.Rows {
		assert.Equal(t, []string{"name", "value"}, row.Keys())
	}
	v, ok := ds.Rows[1].Get("value")
	require.True(t, ok)
	assert.Equal(t, float64(2), v)

	b, err := json.Marshal(ds.Rows)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"a","value":1},{"name":"b","value":2},{"name":"c","value":3}]`, string(b))
}

func TestParseCSVSkipsBlankRowsAndCells(t *testing.T) {
	content := "\ufeffcity,pop,capital\n\nParis,2.1,TRUE\n,,\nLyon,,false\n"
	ds, err := Parse("cities.csv", []byte(content))
	require.NoError(t, err)
	require.Len(t, ds.Rows, 2)

	assert.Equal(t, []string{"city", "pop", "capital"}, ds.Rows[0].Keys())
	assert.Equal(t, []string{"city", "capital"}, ds.Rows[1].Keys())
	capital, _ := ds.Rows[1].Get("capital")
	assert.Equal(t, false, capital)
}

func TestParseCSVHeaderNames(t *testing.T) {
	ds, err := Parse("dups.csv", []byte("a,a,,b\n1,2,3,4,5\n"))
	require.NoError(t, err)
	require.Len(t, ds.Rows, 1)
	assert.Equal(t, []string{"a", "a_1", "__EMPTY", "b", "__EMPTY_4"}, ds.Rows[0].Keys())
}

func TestParseCSVKeepsNonNumericText(t *testing.T) {
	ds, err := Parse("codes.csv", []byte("code\n0x1F\nNaN\n12abc\n"))
	require.NoError(t, err)
	for _, row := range ds.Rows {
		v, _ := row.Get("code")
		_, isString := v.(string)
		assert.True(t, isString, "expected %v to stay text", v)
	}
}

func TestParseXLSXEverySheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"region", "sales"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"north", 10}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"south", 12}))
	_, err := f.NewSheet("Targets")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Targets", "A1", &[]any{"region", "target"}))
	require.NoError(t, f.SetSheetRow("Targets", "A2", &[]any{"north", 15}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	ds, err := Parse("report.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, KindSheets, ds.Kind)
	require.Len(t, ds.Sheets, 2)

	assert.Equal(t, "Sheet1", ds.Sheets[0].Name)
	assert.Len(t, ds.Sheets[0].Rows, 2)
	assert.Equal(t, []string{"region", "sales"}, ds.Sheets[0].Rows[0].Keys())
	assert.Equal(t, "Targets", ds.Sheets[1].Name)
	assert.Len(t, ds.Sheets[1].Rows, 1)

	assert.Equal(t, 3, ds.RowCount())
	assert.Len(t, ds.FirstRows(), 2)
}

func TestParseXLSXFormattedNumbers(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"share", "revenue"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{0.25, 1234.5}))
	percent, err := f.NewStyle(&excelize.Style{NumFmt: 10})
	require.NoError(t, err)
	thousands, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle("Sheet1", "A2", "A2", percent))
	require.NoError(t, f.SetCellStyle("Sheet1", "B2", "B2", thousands))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	ds, err := Parse("styled.xlsx", buf.Bytes())
	require.NoError(t, err)
	rows := ds.FirstRows()
	require.Len(t, rows, 1)

	share, _ := rows[0].Get("share")
	revenue, _ := rows[0].Get("revenue")
	assert.Equal(t, 0.25, share)
	assert.Equal(t, 1234.5, revenue)
}

func TestParseXLSRejectsGarbage(t *testing.T) {
	_, err := Parse("legacy.xls", []byte("definitely not a workbook"))
	assert.Error(t, err)
}

func TestParseJSON(t *testing.T) {
	t.Run("array keeps key order", func(t *testing.T) {
		ds, err := Parse("rows.json", []byte(`[{"z":1,"a":"x"},{"z":2,"a":"y"}]`))
		require.NoError(t, err)
		require.Len(t, ds.Rows, 2)
		assert.Equal(t, []string{"z", "a"}, ds.Rows[0].Keys())
	})

	t.Run("object is wrapped", func(t *testing.T) {
		ds, err := Parse("one.json", []byte(`{"total": 42, "label": "all"}`))
		require.NoError(t, err)
		require.Len(t, ds.Rows, 1)
		assert.Equal(t, []string{"total", "label"}, ds.Rows[0].Keys())
	})

	t.Run("scalars become value rows", func(t *testing.T) {
		ds, err := Parse("nums.json", []byte(`[1, 2]`))
		require.NoError(t, err)
		require.Len(t, ds.Rows, 2)
		v, _ := ds.Rows[0].Get("value")
		assert.Equal(t, float64(1), v)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := Parse("bad.json", []byte(`{"open":`))
		assert.Error(t, err)
	})
}

func TestParseText(t *testing.T) {
	ds, err := Parse("notes.TXT", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, KindText, ds.Kind)
	assert.Equal(t, "hello world", ds.Text)
	assert.Nil(t, ds.FirstRows())
}

func TestParseUnsupported(t *testing.T) {
	for _, name := range []string{"slides.pptx", "image.png", "noext"} {
		_, err := Parse(name, []byte("x"))
		assert.True(t, errors.Is(err, ErrUnsupportedFileType), "%s: got %v", name, err)
	}
}

func TestRowUnmarshalKeepsOrder(t *testing.T) {
	var rows []Row
	require.NoError(t, json.Unmarshal([]byte(`[{"b":1,"a":{"nested":true}},{"b":2}]`), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"b", "a"}, rows[0].Keys())
	assert.Equal(t, []string{"b", "a"}, Columns(rows))

	var notObject Row
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &notObject))
}

func TestSummarize(t *testing.T) {
	t.Run("rows", func(t *testing.T) {
		var rows []Row
		for i := 0; i < 8; i++ {
			rows = append(rows, NewRow("id", i, "label", "x"))
		}
		out := Summarize(Dataset{Kind: KindRows, Rows: rows})
		assert.True(t, strings.HasPrefix(out, "Data contains 8 rows with columns: id, label\n\nSample data:\n["))
		assert.Contains(t, out, `"id": 4`)
		assert.NotContains(t, out, `"id": 5`)
	})

	t.Run("sheets", func(t *testing.T) {
		out := Summarize(Dataset{Kind: KindSheets, Sheets: []Sheet{
			{Name: "Q1", Rows: []Row{NewRow("a", 1, "b", 2)}},
			{Name: "Empty"},
		}})
		assert.Equal(t, "Sheet \"Q1\": 1 rows, columns: a, b\nSheet \"Empty\": 0 rows, columns: ", out)
	})

	t.Run("text is truncated", func(t *testing.T) {
		long := strings.Repeat("é", 1500)
		out := Summarize(Dataset{Kind: KindText, Text: long})
		assert.Equal(t, 1000, len([]rune(out)))
	})

	t.Run("empty rows", func(t *testing.T) {
		out := Summarize(Dataset{Kind: KindRows})
		assert.Equal(t, "Data contains 0 rows with columns: \n\nSample data:\n[]", out)
	})
}
