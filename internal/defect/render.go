package defect

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/markdown"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

const (
	br   = markdown.LineBreak
	rule = br + "----" + br
)

var lineSplit = regexp.MustCompile(`\r\n|\r|\n`)

// RenderDescription builds the defect body for a failed test case: a header
// with time and iteration, one block per step, then the platform block the
// fingerprint is read back from.
func RenderDescription(tc *model.TestCase, at time.Time) string {
	var b strings.Builder
	b.WriteString(rule)
	b.WriteString("*" + at.UTC().Format(time.DateTime) + " UTC*" + br)
	b.WriteString("*On Iteration*: " + strconv.Itoa(tc.Iteration) + br)
	b.WriteString("Bug filed on '" + tc.Scenario + "'" + rule)

	steps := make([]string, 0, len(tc.Steps))
	for _, s := range tc.Steps {
		steps = append(steps, renderStep(s))
	}
	b.WriteString(strings.Join(steps, br+br))
	b.WriteString(RenderPlatform(tc))
	return b.String()
}

// renderStep writes the action and, when assertions failed, a grid marking
// each expected line.
func renderStep(s model.TestStep) string {
	action := "*" + escapeBraces(s.Action) + "*" + br
	if len(s.FailedAssertions) == 0 {
		return action
	}
	failed := make(map[int]bool, len(s.FailedAssertions))
	for _, i := range s.FailedAssertions {
		failed[i] = true
	}

	var b strings.Builder
	b.WriteString(action + "||Result||Assertion||" + br)
	i := 0
	for _, line := range lineSplit.Split(s.Expected, -1) {
		if line == "" {
			continue
		}
		mark := "(/)"
		if failed[i] {
			mark = "(x)"
		}
		b.WriteString("|" + mark + "|" + escapeBraces(line) + "|" + br)
		i++
	}
	return strings.TrimSuffix(b.String(), br)
}

// RenderPlatform writes the driver, application, capabilities and data
// source of tc. Capabilities and data source are left out when empty.
func RenderPlatform(tc *model.TestCase) string {
	env := tc.Environment
	var b strings.Builder
	b.WriteString(rule)
	b.WriteString("*On Platform*: " + env.Driver + rule)
	b.WriteString("*Application Under Test*" + br)
	b.WriteString("||Name||Value||" + br)
	b.WriteString("|Driver|" + env.Driver + "|" + br)
	b.WriteString("|Driver Server|" + strings.ReplaceAll(env.DriverBinaries, `\`, `\\`) + "|" + br)
	b.WriteString("|Application|" + env.Application + "|" + br)
	if len(env.Capabilities) > 0 {
		b.WriteString(capabilitiesMarker + br + markdown.RenderMap(env.Capabilities))
	}
	if !tc.DataSource.IsEmpty() {
		b.WriteString(dataSourceMarker + br + markdown.Render(tc.DataSource))
	}
	return strings.TrimSuffix(b.String(), br)
}

func escapeBraces(s string) string {
	return strings.ReplaceAll(s, "{", `\{`)
}
