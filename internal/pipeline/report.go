package pipeline

import (
	"sort"
	"time"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/results"
)

// CaseReport is the per-test line of a push report.
type CaseReport struct {
	Key      string `json:"key" yaml:"key"`
	Outcome  string `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Evidence int    `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Comment  bool   `json:"comment,omitempty" yaml:"comment,omitempty"`
	Defect   string `json:"defect,omitempty" yaml:"defect,omitempty"`
	BugKey   string `json:"bug_key,omitempty" yaml:"bug_key,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the outcome of a push.
type Report struct {
	RunID        string        `json:"run_id" yaml:"run_id"`
	ExecutionKey string        `json:"execution_key" yaml:"execution_key"`
	Status       string        `json:"status" yaml:"status"`
	StartedAt    time.Time     `json:"started_at" yaml:"started_at"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	Cases        []CaseReport  `json:"cases" yaml:"cases"`
	Errors       []string      `json:"errors,omitempty" yaml:"errors,omitempty"`

	index map[string]int
}

func (r *Report) entry(key string) *CaseReport {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	i, ok := r.index[key]
	if !ok {
		i = len(r.Cases)
		r.index[key] = i
		r.Cases = append(r.Cases, CaseReport{Key: key})
	}
	return &r.Cases[i]
}

// add merges push results. A later result for the same key replaces the
// earlier outcome and error.
func (r *Report) add(pushed []results.PushResult) {
	for _, p := range pushed {
		c := r.entry(p.Key)
		c.Outcome = string(p.Outcome)
		c.Evidence += p.Evidence
		c.Comment = c.Comment || p.Comment
		c.Error = ""
		if p.Err != nil {
			c.Error = p.Err.Error()
		}
	}
}

func (r *Report) defect(key, action, bugKey string, err error) {
	c := r.entry(key)
	c.Defect, c.BugKey = action, bugKey
	if err != nil && c.Error == "" {
		c.Error = err.Error()
	}
}

// Pushed counts test cases without an error.
func (r *Report) Pushed() int {
	n := 0
	for _, c := range r.Cases {
		if c.Error == "" {
			n++
		}
	}
	return n
}

// Failed counts test cases with an error.
func (r *Report) Failed() int { return len(r.Cases) - r.Pushed() }

// Bugs returns the defect keys found or filed, sorted.
func (r *Report) Bugs() []string {
	var out []string
	for _, c := range r.Cases {
		if c.BugKey != "" {
			out = append(out, c.BugKey)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Report) finish(d time.Duration) {
	r.Duration = d
	failed := r.Failed()
	switch {
	case failed == 0 && len(r.Errors) == 0:
		r.Status = StatusCompleted
	case failed == len(r.Cases) && len(r.Cases) > 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
}
