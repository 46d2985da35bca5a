package model

// DataRow maps a column name to its cell value.
type DataRow map[string]string

// DataTable is an ordered row set. Columns keeps first-seen column order;
// a row may omit a column, which reads as an empty cell.
type DataTable struct {
	Columns []string  `json:"columns,omitempty" yaml:"columns,omitempty"`
	Rows    []DataRow `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// Len returns the number of rows.
func (t DataTable) Len() int { return len(t.Rows) }

// IsEmpty reports whether the table has no rows.
func (t DataTable) IsEmpty() bool { return len(t.Rows) == 0 }

// Cell returns the value of column in row i, "" when either is missing.
func (t DataTable) Cell(i int, column string) string {
	if i < 0 || i >= len(t.Rows) {
		return ""
	}
	return t.Rows[i][column]
}

// Maps returns the rows as plain maps with every column present, the shape
// used for canonical comparison.
func (t DataTable) Maps() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		m := make(map[string]string, len(t.Columns))
		for _, col := range t.Columns {
			m[col] = row[col]
		}
		out = append(out, m)
	}
	return out
}

// AddColumn appends column unless it is already present.
func (t *DataTable) AddColumn(column string) {
	for _, c := range t.Columns {
		if c == column {
			return
		}
	}
	t.Columns = append(t.Columns, column)
}
