package model

import (
	"strconv"
	"strings"
)

// Outcome is an Xray test-run status.
type Outcome string

const (
	OutcomePass      Outcome = "PASS"
	OutcomeFail      Outcome = "FAIL"
	OutcomeTodo      Outcome = "TODO"
	OutcomeExecuting Outcome = "EXECUTING"
	OutcomeAborted   Outcome = "ABORTED"
)

// ParseOutcome reads a status as written in results files or returned by
// Xray. Letter case and surrounding space are ignored.
func ParseOutcome(s string) Outcome {
	return Outcome(strings.ToUpper(strings.TrimSpace(s)))
}

// Terminal reports whether a run with this outcome completed. Evidence is
// only uploaded for terminal outcomes.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeTodo, OutcomeExecuting, OutcomeAborted:
		return false
	}
	return true
}

// Context keys carried on TestCase.Context.
const (
	ContextRunID        = "runtimeid"
	ContextExecutionKey = "testRunKey"
	ContextOutcome      = "outcome"
	ContextProjectKey   = "projectKey"
	ContextBugKey       = "bugKey"
)

// TestStep is one action/expectation pair of a test case.
type TestStep struct {
	Action           string `json:"action" yaml:"action"`
	Expected         string `json:"expected" yaml:"expected"`
	RuntimeID        int64  `json:"runtimeId,omitempty" yaml:"runtimeId,omitempty"`
	Passed           bool   `json:"passed,omitempty" yaml:"passed,omitempty"`
	Actual           string `json:"actual,omitempty" yaml:"actual,omitempty"`
	Exception        string `json:"exception,omitempty" yaml:"exception,omitempty"`
	FailedAssertions []int  `json:"failedAssertions,omitempty" yaml:"failedAssertions,omitempty"`
}

// Failed reports whether the step failed or threw.
func (s TestStep) Failed() bool {
	return !s.Passed || s.Exception != ""
}

// Environment describes the driver a test case ran on. It is part of the
// defect fingerprint.
type Environment struct {
	Driver         string         `json:"driver" yaml:"driver"`
	DriverBinaries string         `json:"driverBinaries,omitempty" yaml:"driverBinaries,omitempty"`
	Application    string         `json:"application,omitempty" yaml:"application,omitempty"`
	Capabilities   map[string]any `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// TestCase is derived from a Test issue and mutated during a sync run. Only
// Context, step runtime ids and step results change after resolution.
type TestCase struct {
	ID          string            `json:"id,omitempty" yaml:"id,omitempty"`
	Key         string            `json:"key" yaml:"key"`
	Scenario    string            `json:"scenario" yaml:"scenario"`
	Priority    string            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Link        string            `json:"link,omitempty" yaml:"link,omitempty"`
	TestSuite   string            `json:"testSuite,omitempty" yaml:"testSuite,omitempty"`
	Steps       []TestStep        `json:"steps" yaml:"steps"`
	DataSource  DataTable         `json:"dataSource" yaml:"dataSource"`
	Iteration   int               `json:"iteration" yaml:"iteration"`
	Environment Environment       `json:"environment" yaml:"environment"`
	Screenshots []string          `json:"screenshots,omitempty" yaml:"screenshots,omitempty"`
	Context     map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
}

// Get reads a context value.
func (tc *TestCase) Get(key string) string {
	return tc.Context[key]
}

// Set writes a context value, allocating the bag on first use.
func (tc *TestCase) Set(key, value string) {
	if tc.Context == nil {
		tc.Context = make(map[string]string)
	}
	tc.Context[key] = value
}

// RunID returns the runtime id assigned when the execution was created, 0
// when none was assigned.
func (tc *TestCase) RunID() int64 {
	id, err := strconv.ParseInt(tc.Get(ContextRunID), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Outcome returns the recorded outcome. Without one, the outcome is derived
// from the steps: FAIL if any step failed, PASS otherwise.
func (tc *TestCase) Outcome() Outcome {
	if o := ParseOutcome(tc.Get(ContextOutcome)); o != "" {
		return o
	}
	if tc.HasFailure() {
		return OutcomeFail
	}
	return OutcomePass
}

// HasFailure reports whether any step failed or threw.
func (tc *TestCase) HasFailure() bool {
	for _, s := range tc.Steps {
		if s.Failed() {
			return true
		}
	}
	return false
}

// HasException reports whether any step recorded an exception.
func (tc *TestCase) HasException() bool {
	for _, s := range tc.Steps {
		if s.Exception != "" {
			return true
		}
	}
	return false
}

// FailedSteps returns the zero-based indices of failed steps.
func (tc *TestCase) FailedSteps() []int {
	var out []int
	for i, s := range tc.Steps {
		if s.Failed() {
			out = append(out, i)
		}
	}
	return out
}

// TestRun is one Test Execution and the test cases pushed into it.
type TestRun struct {
	ID        string      `json:"id,omitempty" yaml:"id,omitempty"`
	Key       string      `json:"key,omitempty" yaml:"key,omitempty"`
	Title     string      `json:"title" yaml:"title"`
	RootKeys  []string    `json:"rootKeys,omitempty" yaml:"rootKeys,omitempty"`
	TestCases []*TestCase `json:"testCases" yaml:"testCases"`
}
