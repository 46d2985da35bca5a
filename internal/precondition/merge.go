// Package precondition folds the data tables of a test's preconditions into
// the single data source that drives its iterations.
package precondition

import (
	"github.com/AbdelazizMoustafa10m/xraysync/internal/markdown"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

// Merge combines tables row by row. The result has the union of all columns
// in first-seen order and as many rows as the longest table. A shorter table
// repeats its last row, so a single-row table applies to every iteration.
// When tables share a column, the later table's value wins. Tables without
// rows contribute nothing.
func Merge(tables ...model.DataTable) model.DataTable {
	var merged model.DataTable

	rows := 0
	for _, t := range tables {
		if t.IsEmpty() {
			continue
		}
		for _, col := range t.Columns {
			merged.AddColumn(col)
		}
		if t.Len() > rows {
			rows = t.Len()
		}
	}
	if rows == 0 {
		return model.DataTable{}
	}

	merged.Rows = make([]model.DataRow, rows)
	for i := range merged.Rows {
		row := make(model.DataRow, len(merged.Columns))
		for _, col := range merged.Columns {
			row[col] = ""
		}
		for _, t := range tables {
			if t.IsEmpty() {
				continue
			}
			src := t.Rows[min(i, t.Len()-1)]
			for _, col := range t.Columns {
				row[col] = src[col]
			}
		}
		merged.Rows[i] = row
	}

	return merged
}

// FromDescriptions parses each precondition description as a grid and
// merges the results. Descriptions without a grid are ignored.
func FromDescriptions(descriptions ...string) model.DataTable {
	tables := make([]model.DataTable, 0, len(descriptions))
	for _, d := range descriptions {
		tables = append(tables, markdown.Parse(d))
	}
	return Merge(tables...)
}
