package results

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

// FailComment renders the run comment attached to a failed test case. The
// driver parameters and data source blocks are the same values the defect
// fingerprint is built from. A test case without failed steps yields "".
func FailComment(tc *model.TestCase) string {
	return failComment(tc, time.Now().UTC())
}

func failComment(tc *model.TestCase, at time.Time) string {
	failed := tc.FailedSteps()
	if len(failed) == 0 {
		return ""
	}
	indices := make([]string, len(failed))
	for i, n := range failed {
		indices[i] = strconv.Itoa(n + 1)
	}

	var b strings.Builder
	b.WriteString("{noformat}")
	b.WriteString(at.Format(time.DateTime))
	b.WriteString(": Test [" + tc.Key + "] Failed on iteration [" + strconv.Itoa(tc.Iteration) + "] ")
	b.WriteString("Steps [" + strings.Join(indices, ",") + "]\n\n")
	b.WriteString("[Driver Parameters]\n")
	b.WriteString(indentJSON(tc.Environment))
	b.WriteString("\n\n[Local Data Source]\n")
	b.WriteString(indentJSON(tc.DataSource.Maps()))
	b.WriteString("{noformat}")
	return b.String()
}

func indentJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}
