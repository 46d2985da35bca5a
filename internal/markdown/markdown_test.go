package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		columns []string
		rows    []model.DataRow
	}{
		{
			name:    "literal escapes",
			input:   `||user||password||\r\n|alice|s3cret|\r\n|bob|hunter2|\r\n`,
			columns: []string{"user", "password"},
			rows:    []model.DataRow{{"user": "alice", "password": "s3cret"}, {"user": "bob", "password": "hunter2"}},
		},
		{
			name:    "real newlines and padding",
			input:   "intro text\r\n|| user || password ||\r\n| alice | s3cret |\n",
			columns: []string{"user", "password"},
			rows:    []model.DataRow{{"user": "alice", "password": "s3cret"}},
		},
		{
			name:    "short row fills empty cells",
			input:   "||a||b||c||\n|1|\n",
			columns: []string{"a", "b", "c"},
			rows:    []model.DataRow{{"a": "1", "b": "", "c": ""}},
		},
		{
			name:    "empty middle cell",
			input:   "||a||b||\n|1||\n",
			columns: []string{"a", "b"},
			rows:    []model.DataRow{{"a": "1", "b": ""}},
		},
		{
			name:    "stops at end of block",
			input:   "||a||\n|1|\n*Local Data Source*\n||b||\n|2|\n",
			columns: []string{"a"},
			rows:    []model.DataRow{{"a": "1"}},
		},
		{
			name:    "empty header cell keeps positions",
			input:   "||a||||c||\n|1|2|3|\n",
			columns: []string{"a", "c"},
			rows:    []model.DataRow{{"a": "1", "c": "3"}},
		},
		{
			name:    "repeated header takes first position",
			input:   "||a||b||a||\n|1|2|3|\n",
			columns: []string{"a", "b"},
			rows:    []model.DataRow{{"a": "1", "b": "2"}},
		},
		{
			name:    "header only",
			input:   "||a||b||",
			columns: []string{"a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.input)
			assert.Equal(t, tt.columns, got.Columns)
			assert.Equal(t, tt.rows, got.Rows)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()
	for _, input := range []string{"", "no grid here", "|a|b|", "||||"} {
		got := Parse(input)
		assert.True(t, got.IsEmpty(), "input %q", input)
		assert.Empty(t, got.Columns, "input %q", input)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	table := model.DataTable{
		Columns: []string{"user", "note"},
		Rows:    []model.DataRow{{"user": "alice", "note": "a|b"}, {"user": "bob"}},
	}

	assert.Equal(t, `||user||note||\r\n|alice|a/b|\r\n|bob||\r\n`, Render(table))
	assert.Equal(t, "", Render(model.DataTable{}))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	grids := []string{
		`||user||password||\r\n|alice|s3cret|\r\n|bob|hunter2|\r\n`,
		"||a||b||c||\n|1|\n|2|3|4|\n",
		"||only||\n",
		"prefix\n|| x || y ||\n| 1 | 2 |\n",
	}
	for _, g := range grids {
		first := Parse(g)
		again := Parse(Render(first))
		require.Equal(t, first.Columns, again.Columns, "grid %q", g)
		assert.Equal(t, first.Maps(), again.Maps(), "grid %q", g)
	}
}

func TestRenderMap(t *testing.T) {
	t.Parallel()
	got := RenderMap(map[string]any{
		"platformName": "linux",
		"browserName":  "chrome",
		"goog:chromeOptions": map[string]any{
			"args": []any{"--headless"},
		},
	})

	assert.Equal(t, `||browserName||goog:chromeOptions||platformName||\r\n|chrome|{"args":["--headless"]}|linux|\r\n`, got)
	assert.Equal(t, "", RenderMap(nil))

	table := Parse(got)
	assert.Equal(t, "chrome", table.Cell(0, "browserName"))
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a\nb\nc\nd", Normalize(`a\r\nb`+"\r\nc\rd"))
	assert.Equal(t, `C:\new\one`+"\n", Normalize(`C:\new\one\r\n`))
}

func TestRoundTrip_BackslashCells(t *testing.T) {
	t.Parallel()
	table := model.DataTable{
		Columns: []string{"path", "pattern"},
		Rows: []model.DataRow{
			{"path": `C:\new\one`, "pattern": `\d+\n`},
			{"path": `\\share\root`, "pattern": `a\tb`},
		},
	}

	got := Parse(Render(table))
	require.Equal(t, table.Columns, got.Columns)
	assert.Equal(t, table.Maps(), got.Maps())
}
