// Package markdown converts between Jira wiki-markup grids and DataTables.
//
// A grid is a header row wrapped in double pipes followed by single-pipe
// data rows:
//
//	||user||password||\r\n|alice|s3cret|\r\n
//
// Rows in persisted tracker text end with the literal two-character
// sequences `\r\n`, because the field does not keep raw newlines. Parse
// accepts both the literal sequence and real line breaks; Render always
// emits the literal form.
package markdown

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

// LineBreak is the escaped row terminator written into tracker text.
const LineBreak = `\r\n`

// Normalize rewrites the escaped row terminator and real CR/LF breaks to
// "\n". A lone literal `\n` is cell content, as in `C:\new`, and is kept.
func Normalize(text string) string {
	r := strings.NewReplacer(LineBreak, "\n", "\r\n", "\n", "\r", "\n")
	return r.Replace(text)
}

// Parse reads the first grid in text. Text without a header row yields an
// empty table; parsing never fails. The grid ends at the first line that
// does not start with a pipe. Data cells map to headers by position; a
// position whose header is empty or repeats an earlier one is ignored.
func Parse(text string) model.DataTable {
	var (
		table   model.DataTable
		headers []string
	)
	inGrid := false

	for _, raw := range strings.Split(Normalize(text), "\n") {
		line := strings.TrimSpace(raw)
		if !inGrid {
			if strings.HasPrefix(line, "||") {
				headers = headerCells(line)
				for _, col := range headers {
					if col != "" {
						table.Columns = append(table.Columns, col)
					}
				}
				inGrid = len(table.Columns) > 0
			}
			continue
		}

		if line == "" && len(table.Rows) == 0 {
			continue
		}
		if !strings.HasPrefix(line, "|") || strings.HasPrefix(line, "||") {
			break
		}

		cells := splitCells(line, "|")
		row := make(model.DataRow, len(table.Columns))
		for _, col := range table.Columns {
			row[col] = ""
		}
		for i, col := range headers {
			if col != "" && i < len(cells) {
				row[col] = cells[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}

	return table
}

// headerCells returns the header cells by position. Repeated names are
// blanked so each column takes its value from its first position.
func headerCells(line string) []string {
	cells := splitCells(line, "||")
	seen := make(map[string]bool, len(cells))
	for i, c := range cells {
		if seen[c] {
			cells[i] = ""
		}
		seen[c] = true
	}
	return cells
}

// splitCells strips one outer delimiter from each end of line and splits on
// sep, trimming each cell.
func splitCells(line, sep string) []string {
	line = strings.TrimPrefix(line, sep)
	line = strings.TrimSuffix(line, sep)
	parts := strings.Split(line, sep)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// Render writes table as a grid. A table without columns renders as "".
func Render(table model.DataTable) string {
	if len(table.Columns) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("||")
	for _, col := range table.Columns {
		b.WriteString(escapeCell(col))
		b.WriteString("||")
	}
	b.WriteString(LineBreak)

	for _, row := range table.Rows {
		b.WriteString("|")
		for _, col := range table.Columns {
			b.WriteString(escapeCell(row[col]))
			b.WriteString("|")
		}
		b.WriteString(LineBreak)
	}
	return b.String()
}

// RenderMap renders a map as a one-row grid whose columns are the sorted
// keys. Non-string values are JSON encoded. An empty map renders as "".
func RenderMap(m map[string]any) string {
	return Render(FromMap(m))
}

// FromMap converts a map into the one-row table RenderMap writes.
func FromMap(m map[string]any) model.DataTable {
	if len(m) == 0 {
		return model.DataTable{}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	row := make(model.DataRow, len(keys))
	for _, k := range keys {
		row[k] = cellValue(m[k])
	}
	return model.DataTable{Columns: keys, Rows: []model.DataRow{row}}
}

func cellValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// escapeCell keeps a value on one grid row and inside one cell.
func escapeCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", LineBreak, " ", "|", "/").Replace(s)
	return s
}
