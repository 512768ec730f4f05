package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	textBudget = 1000
	sampleRows = 5
)

// Summarize renders a short, human-readable digest of a dataset for a prompt.
func Summarize(ds Dataset) string {
	switch ds.Kind {
	case KindText:
		return truncateRunes(ds.Text, textBudget)
	case KindRows:
		return summarizeRows(ds.Rows)
	case KindSheets:
		lines := make([]string, 0, len(ds.Sheets))
		for _, s := range ds.Sheets {
			lines = append(lines, fmt.Sprintf("Sheet %q: %d rows, columns: %s",
				s.Name, len(s.Rows), strings.Join(Columns(s.Rows), ", ")))
		}
		return strings.Join(lines, "\n")
	}
	return ""
}

func summarizeRows(rows []Row) string {
	n := len(rows)
	if n > sampleRows {
		n = sampleRows
	}
	sample := make([]Row, n)
	copy(sample, rows[:n])

	b, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		b = []byte("[]")
	}
	return fmt.Sprintf("Data contains %d rows with columns: %s\n\nSample data:\n%s",
		len(rows), strings.Join(Columns(rows), ", "), b)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
