// Package pipeline chains the sync stages: pull resolves root issues into
// test cases, push publishes executed test cases and reconciles defects.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/defect"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/results"
)

// Run status constants describe the aggregate outcome of a push.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Resolver expands root keys into test cases.
type Resolver interface {
	ResolveAll(ctx context.Context, rootKeys []string) ([]*model.TestCase, error)
}

// Publisher pushes results into an execution.
type Publisher interface {
	CreateExecution(ctx context.Context, run *model.TestRun) error
	SetRuntimeKeys(ctx context.Context, run *model.TestRun) error
	UpdateMany(ctx context.Context, tcs []*model.TestCase) []results.PushResult
	CompleteRun(ctx context.Context, run *model.TestRun) ([]results.PushResult, error)
}

// Reconciler decides whether a failed test case needs a new defect.
type Reconciler interface {
	Reconcile(ctx context.Context, tc *model.TestCase) (defect.Decision, error)
}

// Event is a progress notification sent on the optional events channel.
type Event struct {
	RunID   string
	Stage   string
	Key     string
	Message string
}

// Orchestrator runs pull and push.
type Orchestrator struct {
	resolver   Resolver
	publisher  Publisher
	reconciler Reconciler
	runID      string
	bucketSize int
	logger     *log.Logger
	events     chan<- Event
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResolver sets the pull stage.
func WithResolver(r Resolver) Option { return func(o *Orchestrator) { o.resolver = r } }

// WithPublisher sets the push stage.
func WithPublisher(p Publisher) Option { return func(o *Orchestrator) { o.publisher = p } }

// WithReconciler enables defect reconciliation for failed test cases.
func WithReconciler(r Reconciler) Option { return func(o *Orchestrator) { o.reconciler = r } }

// WithRunID overrides the generated run id.
func WithRunID(id string) Option { return func(o *Orchestrator) { o.runID = id } }

// WithBucketSize bounds concurrent defect reconciliation.
func WithBucketSize(n int) Option { return func(o *Orchestrator) { o.bucketSize = n } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithEvents sets a channel that receives progress events. Sends never
// block; events are dropped when the channel is full.
func WithEvents(ch chan<- Event) Option { return func(o *Orchestrator) { o.events = ch } }

// New returns an Orchestrator with a fresh run id.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{runID: uuid.NewString(), bucketSize: 1}
	for _, opt := range opts {
		opt(o)
	}
	if o.bucketSize < 1 {
		o.bucketSize = 1
	}
	if o.logger == nil {
		o.logger = logging.ForRun(logging.ComponentPipeline, o.runID)
	} else {
		o.logger = o.logger.With("run", o.runID)
	}
	return o
}

// RunID identifies this sync run in logs, reports and the defect index.
func (o *Orchestrator) RunID() string { return o.runID }

// Pull resolves rootKeys into a test run.
func (o *Orchestrator) Pull(ctx context.Context, rootKeys []string) (*model.TestRun, error) {
	if o.resolver == nil {
		return nil, errors.New("pipeline: no resolver configured")
	}
	start := time.Now()
	o.emit(Event{Stage: "pull", Message: "resolving " + strings.Join(rootKeys, ",")})

	tcs, err := o.resolver.ResolveAll(ctx, rootKeys)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve: %w", err)
	}
	o.logger.Info("pull complete", "roots", len(rootKeys), "tests", len(tcs), "duration", time.Since(start).Round(time.Millisecond))
	return &model.TestRun{RootKeys: rootKeys, TestCases: tcs}, nil
}

// PushOpts configures Push.
type PushOpts struct {
	// Title names a new execution. Ignored when the run already has a key.
	Title string

	// Complete re-pushes incomplete results and attaches the execution to
	// the run's plans once every test case was pushed.
	Complete bool
}

// Push binds the run to an execution (creating one when the run has no
// key), pushes every test case and reconciles defects for failures.
// Per-test failures are reported, not returned.
func (o *Orchestrator) Push(ctx context.Context, run *model.TestRun, opts PushOpts) (*Report, error) {
	if o.publisher == nil {
		return nil, errors.New("pipeline: no publisher configured")
	}
	start := time.Now()
	report := &Report{RunID: o.runID, StartedAt: start}

	if run.Key == "" {
		if run.Title == "" {
			run.Title = opts.Title
		}
		if run.Title == "" {
			run.Title = "xraysync " + start.UTC().Format(time.DateTime)
		}
		if err := o.publisher.CreateExecution(ctx, run); err != nil {
			return nil, fmt.Errorf("pipeline: create execution: %w", err)
		}
	} else if err := o.publisher.SetRuntimeKeys(ctx, run); err != nil {
		return nil, fmt.Errorf("pipeline: bind runs: %w", err)
	}
	report.ExecutionKey = run.Key
	o.emit(Event{Stage: "push", Key: run.Key, Message: "execution ready"})

	pushed := o.publisher.UpdateMany(ctx, run.TestCases)
	report.add(pushed)

	o.reconcile(ctx, run, report)

	if opts.Complete {
		repushed, err := o.publisher.CompleteRun(ctx, run)
		report.add(repushed)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			o.logger.Warn("run completion incomplete", "execution", run.Key, "error", err)
		}
	}

	report.finish(time.Since(start))
	o.logger.Info("push complete",
		"execution", run.Key,
		"status", report.Status,
		"pushed", report.Pushed(),
		"failed", report.Failed(),
		"duration", report.Duration.Round(time.Millisecond))
	return report, ctx.Err()
}

// reconcile runs the defect reconciler over failed test cases, bucketSize at
// a time.
func (o *Orchestrator) reconcile(ctx context.Context, run *model.TestRun, report *Report) {
	if o.reconciler == nil {
		return
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.bucketSize)
	for _, tc := range run.TestCases {
		if tc.Outcome() != model.OutcomeFail && !tc.HasException() {
			continue
		}
		g.Go(func() error {
			d, err := o.reconciler.Reconcile(gctx, tc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				o.logger.Warn("defect reconciliation failed", "key", tc.Key, "error", err)
				report.defect(tc.Key, "", "", err)
				return nil
			}
			report.defect(tc.Key, string(d.Action), d.BugKey, nil)
			o.emit(Event{Stage: "defect", Key: tc.Key, Message: string(d.Action) + " " + d.BugKey})
			return nil
		})
	}
	_ = g.Wait()
}

// DryRun describes what Push would do for run without contacting the
// tracker.
func (o *Orchestrator) DryRun(run *model.TestRun, opts PushOpts) string {
	var sb strings.Builder
	sb.WriteString("Push dry-run plan\n")
	sb.WriteString(strings.Repeat("=", 40))
	sb.WriteString("\n\n")

	if run.Key != "" {
		fmt.Fprintf(&sb, "Execution:  %s (existing)\n", run.Key)
	} else {
		title := run.Title
		if title == "" {
			title = opts.Title
		}
		fmt.Fprintf(&sb, "Execution:  new %q\n", title)
	}
	fmt.Fprintf(&sb, "Run id:     %s\n", o.runID)
	fmt.Fprintf(&sb, "Tests:      %d\n\n", len(run.TestCases))

	for _, tc := range run.TestCases {
		outcome := tc.Outcome()
		fmt.Fprintf(&sb, "  %-12s %-9s", tc.Key, outcome)
		if outcome.Terminal() {
			sb.WriteString(" evidence")
		}
		if outcome == model.OutcomeFail || tc.HasException() {
			sb.WriteString(" comment")
			if o.reconciler != nil {
				sb.WriteString(" defect-check")
			}
		}
		sb.WriteString("\n")
	}
	if opts.Complete {
		fmt.Fprintf(&sb, "\nComplete run and attach to plans among: %s\n", strings.Join(run.RootKeys, ", "))
	}
	return sb.String()
}

func (o *Orchestrator) emit(ev Event) {
	if o.events == nil {
		return
	}
	ev.RunID = o.runID
	select {
	case o.events <- ev:
	default:
	}
}
