package resolve

import (
	"regexp"
	"sort"
	"strings"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/jsonutil"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

var (
	// autoLink matches the inner part of {[text|url]}.
	autoLink = regexp.MustCompile(`\{\[([^\]|]*)\|([^\]]*)\]\}`)

	unescaper = strings.NewReplacer(`{{`, `{`, `}}`, `}`, `\{`, `{`, `\[`, `[`)

	lineSplit = regexp.MustCompile(`\r\n|\r|\n`)
)

// ToTestCase converts a Test issue, already enriched with steps, into a
// test case. Hierarchy data (suite, data source) is filled in by the
// resolver.
func ToTestCase(issue model.Issue) *model.TestCase {
	tc := &model.TestCase{
		ID:       issue.ID,
		Key:      issue.Key,
		Scenario: issue.Summary(),
		Link:     issue.Self,
		Priority: priority(issue),
	}
	if project := jsonutil.String(issue.Fields, "project.key"); project != "" {
		tc.Set(model.ContextProjectKey, project)
	}

	steps := make([]model.RawStep, len(issue.Steps))
	copy(steps, issue.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })

	tc.Steps = make([]model.TestStep, 0, len(steps))
	for _, s := range steps {
		tc.Steps = append(tc.Steps, model.TestStep{
			Action:   normalizeText(s.Action),
			Expected: normalizeLines(normalizeText(s.Result)),
		})
	}
	return tc
}

// priority renders "id - name", or "" when the issue has none.
func priority(issue model.Issue) string {
	p, ok := issue.Field("priority").(map[string]any)
	if !ok {
		return ""
	}
	id, name := jsonutil.Scalar(p["id"]), jsonutil.Scalar(p["name"])
	if id == "" && name == "" {
		return ""
	}
	return id + " - " + name
}

// normalizeText undoes the tracker's brace escaping and collapses
// {[text|url]} auto-links to {url}.
func normalizeText(s string) string {
	s = unescaper.Replace(s)
	return autoLink.ReplaceAllString(s, `{$2}`)
}

func normalizeLines(s string) string {
	var lines []string
	for _, line := range lineSplit.Split(s, -1) {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
