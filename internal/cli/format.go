package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/pipeline"
)

// formatValue is a pflag.Value restricted to the output formats.
type formatValue pipeline.Format

func (f *formatValue) String() string { return string(*f) }

func (f *formatValue) Set(s string) error {
	switch v := pipeline.Format(strings.ToLower(s)); v {
	case pipeline.FormatJSON, pipeline.FormatYAML, pipeline.FormatTable:
		*f = formatValue(v)
		return nil
	default:
		return fmt.Errorf("must be one of json, yaml, table")
	}
}

func (f *formatValue) Type() string { return "format" }

var (
	styleTableHead = lipgloss.NewStyle().Bold(true).Underline(true)
	styleKey       = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// outcomeStyle colors an outcome the way Xray shows it.
func outcomeStyle(o string) lipgloss.Style {
	switch model.Outcome(o) {
	case model.OutcomePass:
		return styleSuccess
	case model.OutcomeFail:
		return styleErrorLbl
	case model.OutcomeAborted:
		return styleWarnLbl
	default:
		return styleMuted
	}
}

// cell pads s to width before styling so ANSI codes do not skew columns.
func cell(style lipgloss.Style, s string, width int) string {
	return style.Render(fmt.Sprintf("%-*s", width, s))
}

// printCases writes one line per resolved test case.
func printCases(out io.Writer, run *model.TestRun) {
	fmt.Fprintf(out, "%s %s %s %s %s %s\n",
		cell(styleTableHead, "KEY", 12),
		cell(styleTableHead, "SUITE", 12),
		cell(styleTableHead, "PRIORITY", 14),
		cell(styleTableHead, "STEPS", 5),
		cell(styleTableHead, "ROWS", 5),
		styleTableHead.Render("SCENARIO"))
	for _, tc := range run.TestCases {
		fmt.Fprintf(out, "%s %-12s %-14s %5d %5d %s\n",
			cell(styleKey, tc.Key, 12),
			tc.TestSuite,
			tc.Priority,
			len(tc.Steps),
			tc.DataSource.Len(),
			tc.Scenario)
	}
	fmt.Fprintln(out, styleMuted.Render(fmt.Sprintf("%d test case(s) from %s", len(run.TestCases), strings.Join(run.RootKeys, ", "))))
}

// printReport writes a push report as a table.
func printReport(out io.Writer, r *pipeline.Report) {
	fmt.Fprintf(out, "%s %s  (run %s)\n", styleHeader.Render("Execution"), styleKey.Render(r.ExecutionKey), r.RunID)
	fmt.Fprintf(out, "%s %s %s %s %s\n",
		cell(styleTableHead, "KEY", 12),
		cell(styleTableHead, "OUTCOME", 9),
		cell(styleTableHead, "EVIDENCE", 8),
		cell(styleTableHead, "DEFECT", 20),
		styleTableHead.Render("ERROR"))
	for _, c := range r.Cases {
		defect := c.Defect
		if c.BugKey != "" {
			defect += " " + c.BugKey
		}
		fmt.Fprintf(out, "%s %s %8d %-20s %s\n",
			cell(styleKey, c.Key, 12),
			cell(outcomeStyle(c.Outcome), c.Outcome, 9),
			c.Evidence,
			defect,
			c.Error)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "%s %s\n", styleWarnLbl.Render("warning:"), e)
	}
	status := styleSuccess
	if r.Status != pipeline.StatusCompleted {
		status = styleErrorLbl
	}
	fmt.Fprintf(out, "%s  pushed %d, failed %d, bugs %s, took %s\n",
		status.Render(r.Status), r.Pushed(), r.Failed(), fmtBugs(r.Bugs()), r.Duration.Round(time.Millisecond))
}

func fmtBugs(keys []string) string {
	if len(keys) == 0 {
		return "none"
	}
	return strings.Join(keys, ", ")
}
