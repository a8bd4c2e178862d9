// Package export writes query results as CSV or JSON.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat maps a format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format: %s", name)
	}
}

// FileName returns the default export file name for res.
func FileName(res *sql.Result, f Format) string {
	table := res.PrimaryTable
	if table == "" {
		table = "query"
	}
	return table + "_results." + string(f)
}

// Write encodes res to w in format f.
func Write(w io.Writer, res *sql.Result, f Format) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, res)
	case FormatJSON:
		return WriteJSON(w, res)
	default:
		return fmt.Errorf("unknown export format: %s", f)
	}
}

// WriteFile exports res to path, creating or truncating it.
func WriteFile(path string, res *sql.Result, f Format) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := Write(file, res, f); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteCSV writes a header row from the result's columns followed by one
// line per row. Every field is quoted; NULL is written as an empty field.
func WriteCSV(w io.Writer, res *sql.Result) error {
	var b strings.Builder
	writeLine := func(fields []string) {
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(f, `"`, `""`))
			b.WriteByte('"')
		}
		b.WriteString("\n")
	}

	writeLine(res.Columns)
	for i := range res.Rows {
		vals := res.Values(i)
		fields := make([]string, len(vals))
		for j, v := range vals {
			if !v.IsNull() {
				fields[j] = v.String()
			}
		}
		writeLine(fields)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type jsonExport struct {
	Table   string           `json:"table"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// WriteJSON writes the result as an indented JSON document.
func WriteJSON(w io.Writer, res *sql.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonExport{
		Table:   res.PrimaryTable,
		Columns: res.Columns,
		Rows:    res.Maps(),
	})
}
