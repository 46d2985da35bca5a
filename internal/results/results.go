// Package results pushes locally executed test cases back into an Xray test
// execution: per-step outcomes, step evidence and failure comments.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/evidence"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/jira"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/jsonutil"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

const (
	runLookupPath   = "/rest/raven/2.0/api/testrun/?testExecIssueKey=%s&testIssueKey=%s"
	runPath         = "/rest/raven/2.0/api/testrun/%d"
	attachmentPath  = "/rest/raven/2.0/api/testrun/%d/step/%d/attachment"
	executionTests  = "/rest/raven/2.0/api/testexec/%s/test"
	planExecutions  = "/rest/raven/1.0/testplan/%s/testexec"
	defaultOutcome  = model.OutcomeTodo
)

// ErrNoRuntimeID is returned when a test case has not been bound to a run in
// an execution yet.
var ErrNoRuntimeID = errors.New("test case has no runtime id")

// Tracker is the subset of the Jira client used to publish results.
type Tracker interface {
	Do(ctx context.Context, method, path string, payload any) (int, []byte, error)
	CreateIssue(ctx context.Context, body []byte) (*model.Issue, error)
	CustomFieldID(ctx context.Context, schema string) (string, error)
	GetIssues(ctx context.Context, bucketSize int, keys []string) ([]model.Issue, error)
}

// Evidence supplies step screenshots.
type Evidence interface {
	Attachments(tc *model.TestCase) ([]evidence.Attachment, error)
	Load(ctx context.Context, location string) (*evidence.Payload, error)
}

// PushResult reports the outcome of Update for one test case.
type PushResult struct {
	Key      string
	Outcome  model.Outcome
	Evidence int
	Comment  bool
	Err      error
}

// Synchronizer publishes results through a Tracker.
type Synchronizer struct {
	tracker    Tracker
	evidence   Evidence
	project    string
	assignee   string
	xray       config.XrayConfig
	bucketSize int
	logger     *log.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithEvidence sets the screenshot source. Without one, evidence upload is
// a no-op.
func WithEvidence(e Evidence) Option {
	return func(s *Synchronizer) { s.evidence = e }
}

// New returns a Synchronizer for the project and Xray settings in cfg.
func New(tracker Tracker, cfg *config.Config, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		tracker:    tracker,
		project:    cfg.Jira.Project,
		assignee:   cfg.Sync.Assignee,
		xray:       cfg.Xray,
		bucketSize: cfg.Xray.BucketSize,
	}
	if s.assignee == "" {
		s.assignee = cfg.Jira.User
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bucketSize < 1 {
		s.bucketSize = config.DefaultBucketSize
	}
	if s.logger == nil {
		s.logger = logging.New(logging.ComponentResults)
	}
	return s
}

type createExecutionVars struct {
	Project    string
	Title      string
	IssueType  string
	TestsField string
	TestKeys   []string
	Assignee   string
}

// CreateExecution files a Test Execution holding the run's test cases and
// binds every test case to its run inside it.
func (s *Synchronizer) CreateExecution(ctx context.Context, run *model.TestRun) error {
	field, err := s.tracker.CustomFieldID(ctx, s.xray.Schemas.ExecutionTests)
	if err != nil {
		return fmt.Errorf("resolving execution tests field: %w", err)
	}
	if field == "" {
		return fmt.Errorf("no custom field for schema %q", s.xray.Schemas.ExecutionTests)
	}

	keys := make([]string, 0, len(run.TestCases))
	seen := map[string]bool{}
	for _, tc := range run.TestCases {
		if !seen[tc.Key] {
			seen[tc.Key] = true
			keys = append(keys, tc.Key)
		}
	}

	body, err := config.RenderRequest("create_execution", createExecutionVars{
		Project:    s.project,
		Title:      run.Title,
		IssueType:  s.xray.ExecutionType,
		TestsField: field,
		TestKeys:   keys,
		Assignee:   s.assignee,
	})
	if err != nil {
		return err
	}

	created, err := s.tracker.CreateIssue(ctx, body)
	if err != nil {
		return err
	}
	run.ID, run.Key = created.ID, created.Key
	s.logger.Info("execution created", "key", run.Key, "tests", len(keys))

	return s.SetRuntimeKeys(ctx, run)
}

type testRunResponse struct {
	ID    any `json:"id"`
	Steps []struct {
		ID any `json:"id"`
	} `json:"steps"`
}

// SetRuntimeKeys looks up the run of every test case inside run's execution
// and records the run id and step ids. Lookups that fail leave the test case
// unbound.
func (s *Synchronizer) SetRuntimeKeys(ctx context.Context, run *model.TestRun) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bucketSize)
	for _, tc := range run.TestCases {
		g.Go(func() error {
			if err := s.bindRun(gctx, run.Key, tc); err != nil {
				s.logger.Warn("run lookup failed", "execution", run.Key, "key", tc.Key, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (s *Synchronizer) bindRun(ctx context.Context, executionKey string, tc *model.TestCase) error {
	path := fmt.Sprintf(runLookupPath, url.QueryEscape(executionKey), url.QueryEscape(tc.Key))
	var resp testRunResponse
	if err := s.getJSON(ctx, path, &resp); err != nil {
		return err
	}
	id := jsonutil.Scalar(resp.ID)
	if id == "" {
		return errors.New("response has no run id")
	}
	for i := range tc.Steps {
		if i >= len(resp.Steps) {
			break
		}
		tc.Steps[i].RuntimeID, _ = strconv.ParseInt(jsonutil.Scalar(resp.Steps[i].ID), 10, 64)
	}
	tc.Set(model.ContextExecutionKey, executionKey)
	tc.Set(model.ContextRunID, id)
	return nil
}

type stepUpdate struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	Comment      string `json:"comment,omitempty"`
	ActualResult string `json:"actualResult,omitempty"`
}

type runUpdate struct {
	Status  string       `json:"status,omitempty"`
	Comment string       `json:"comment,omitempty"`
	Steps   []stepUpdate `json:"steps,omitempty"`
}

// PushOutcome records outcome on the test case and sends one update with
// every step's status and assertion detail. Steps inherit a non-terminal
// outcome; terminal outcomes are reported per step.
func (s *Synchronizer) PushOutcome(ctx context.Context, tc *model.TestCase, outcome model.Outcome) error {
	id := tc.RunID()
	if id == 0 {
		return fmt.Errorf("%s: %w", tc.Key, ErrNoRuntimeID)
	}
	tc.Set(model.ContextOutcome, string(outcome))

	update := runUpdate{Status: string(outcome)}
	for _, step := range tc.Steps {
		if step.RuntimeID == 0 {
			continue
		}
		update.Steps = append(update.Steps, stepUpdate{
			ID:           step.RuntimeID,
			Status:       stepStatus(step, outcome),
			Comment:      AssertionGrid(step),
			ActualResult: actualResult(step),
		})
	}
	return s.put(ctx, fmt.Sprintf(runPath, id), update)
}

func stepStatus(step model.TestStep, outcome model.Outcome) string {
	if !outcome.Terminal() {
		return string(outcome)
	}
	if step.Failed() {
		return string(model.OutcomeFail)
	}
	return string(model.OutcomePass)
}

func actualResult(step model.TestStep) string {
	if step.Exception != "" {
		if step.Actual == "" {
			return step.Exception
		}
		return step.Actual + "\n" + step.Exception
	}
	return step.Actual
}

// AssertionGrid renders a step's expected lines as a Result/Assertion grid,
// marking failed assertions with (x). Steps without failed assertions render
// as "".
func AssertionGrid(step model.TestStep) string {
	if len(step.FailedAssertions) == 0 {
		return ""
	}
	failed := make(map[int]bool, len(step.FailedAssertions))
	for _, i := range step.FailedAssertions {
		failed[i] = true
	}
	var b strings.Builder
	b.WriteString("||Result||Assertion||")
	for i, line := range expectedLines(step.Expected) {
		mark := "(/)"
		if failed[i] {
			mark = "(x)"
		}
		b.WriteString("\n|" + mark + "|" + escapeBraces(line) + "|")
	}
	return b.String()
}

func expectedLines(s string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func escapeBraces(s string) string {
	return strings.ReplaceAll(s, "{", `\{`)
}

// PushEvidence uploads the screenshots of tc to their steps. Nothing is
// uploaded while the outcome is not terminal. It returns the number of
// uploads that succeeded.
func (s *Synchronizer) PushEvidence(ctx context.Context, tc *model.TestCase) (int, error) {
	if s.evidence == nil || !tc.Outcome().Terminal() {
		return 0, nil
	}
	id := tc.RunID()
	if id == 0 {
		return 0, fmt.Errorf("%s: %w", tc.Key, ErrNoRuntimeID)
	}

	attachments, err := s.evidence.Attachments(tc)
	if err != nil {
		return 0, err
	}

	var (
		mu       sync.Mutex
		uploaded int
		errs     []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bucketSize)
	for _, a := range attachments {
		g.Go(func() error {
			err := s.uploadEvidence(gctx, id, a)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			uploaded++
			return nil
		})
	}
	_ = g.Wait()
	return uploaded, errors.Join(errs...)
}

func (s *Synchronizer) uploadEvidence(ctx context.Context, runID int64, a evidence.Attachment) error {
	payload, err := s.evidence.Load(ctx, a.Path)
	if err != nil {
		return err
	}
	path := fmt.Sprintf(attachmentPath, runID, a.RuntimeID)
	status, body, err := s.tracker.Do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if !jira.Success(status) {
		return jira.NewAPIError(http.MethodPost, path, status, body)
	}
	return nil
}

// PushComment sets the run comment.
func (s *Synchronizer) PushComment(ctx context.Context, tc *model.TestCase, text string) error {
	id := tc.RunID()
	if id == 0 {
		return fmt.Errorf("%s: %w", tc.Key, ErrNoRuntimeID)
	}
	return s.put(ctx, fmt.Sprintf(runPath, id), runUpdate{Comment: text})
}

// Update pushes the outcome of tc, then its evidence when the outcome is
// terminal, then a failure comment when the run failed or any step threw.
func (s *Synchronizer) Update(ctx context.Context, tc *model.TestCase) PushResult {
	outcome := tc.Outcome()
	if tc.Get(model.ContextOutcome) == "" && len(tc.Steps) == 0 {
		outcome = defaultOutcome
	}
	res := PushResult{Key: tc.Key, Outcome: outcome}

	if err := s.PushOutcome(ctx, tc, outcome); err != nil {
		res.Err = err
		return res
	}

	n, err := s.PushEvidence(ctx, tc)
	res.Evidence = n
	if err != nil {
		s.logger.Warn("evidence upload incomplete", "key", tc.Key, "uploaded", n, "error", err)
	}

	if outcome != model.OutcomeFail && !tc.HasException() {
		return res
	}
	if text := FailComment(tc); text != "" {
		if err := s.PushComment(ctx, tc, text); err != nil {
			res.Err = err
			return res
		}
		res.Comment = true
	}
	return res
}

// UpdateMany runs Update for every test case, bucketSize at a time. Results
// follow the input order.
func (s *Synchronizer) UpdateMany(ctx context.Context, tcs []*model.TestCase) []PushResult {
	out := make([]PushResult, len(tcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bucketSize)
	for i, tc := range tcs {
		g.Go(func() error {
			out[i] = s.Update(gctx, tc)
			if out[i].Err != nil {
				s.logger.Error("result push failed", "key", tc.Key, "error", out[i].Err)
			} else {
				s.logger.Debug("result pushed", "key", tc.Key, "outcome", out[i].Outcome)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type executionTest struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

// CompleteRun re-pushes test cases the execution still lists as TODO or
// EXECUTING, then attaches the execution to every plan among the run's root
// keys.
func (s *Synchronizer) CompleteRun(ctx context.Context, run *model.TestRun) ([]PushResult, error) {
	var listed []executionTest
	if err := s.getJSON(ctx, fmt.Sprintf(executionTests, url.PathEscape(run.Key)), &listed); err != nil {
		return nil, fmt.Errorf("listing tests of %s: %w", run.Key, err)
	}
	pending := map[string]bool{}
	for _, t := range listed {
		if o := model.ParseOutcome(t.Status); o == model.OutcomeTodo || o == model.OutcomeExecuting {
			pending[t.Key] = true
		}
	}

	var retry []*model.TestCase
	for _, tc := range run.TestCases {
		if pending[tc.Key] {
			retry = append(retry, tc)
		}
	}
	var pushed []PushResult
	if len(retry) > 0 {
		s.logger.Info("re-pushing incomplete results", "execution", run.Key, "tests", len(retry))
		pushed = s.UpdateMany(ctx, retry)
	}

	return pushed, s.AttachToTestPlans(ctx, run)
}

// AttachToTestPlans adds the execution to every Test Plan among the run's
// root keys.
func (s *Synchronizer) AttachToTestPlans(ctx context.Context, run *model.TestRun) error {
	if len(run.RootKeys) == 0 {
		return nil
	}
	roots, err := s.tracker.GetIssues(ctx, s.bucketSize, run.RootKeys)
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bucketSize)
	for _, root := range roots {
		if !model.SameType(root.Type(), s.xray.PlanType) {
			continue
		}
		g.Go(func() error {
			payload := map[string]any{"assignee": s.assignee, "keys": []string{run.Key}}
			path := fmt.Sprintf(planExecutions, url.PathEscape(root.Key))
			status, body, err := s.tracker.Do(gctx, http.MethodPost, path, payload)
			if err == nil && !jira.Success(status) {
				err = jira.NewAPIError(http.MethodPost, path, status, body)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("attaching %s to %s: %w", run.Key, root.Key, err))
				mu.Unlock()
				return nil
			}
			s.logger.Info("execution attached to plan", "execution", run.Key, "plan", root.Key)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *Synchronizer) getJSON(ctx context.Context, path string, out any) error {
	status, body, err := s.tracker.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if !jira.Success(status) {
		return jira.NewAPIError(http.MethodGet, path, status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (s *Synchronizer) put(ctx context.Context, path string, payload any) error {
	status, body, err := s.tracker.Do(ctx, http.MethodPut, path, payload)
	if err != nil {
		return err
	}
	if !jira.Success(status) {
		return jira.NewAPIError(http.MethodPut, path, status, body)
	}
	return nil
}
