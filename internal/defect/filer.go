package defect

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/jira"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/jsonutil"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/markdown"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

var priorityPattern = regexp.MustCompile(`^\s*(\d+)\s*-\s*(\w+)`)

// Tracker is the part of the Jira client used to find and file defects.
type Tracker interface {
	GetIssue(ctx context.Context, key string) (*model.Issue, error)
	GetIssues(ctx context.Context, bucketSize int, keys []string) ([]model.Issue, error)
	CreateIssue(ctx context.Context, body []byte) (*model.Issue, error)
	CreateLink(ctx context.Context, linkType, inward, outward string) error
	AddAttachments(ctx context.Context, key string, files ...jira.Attachment) error
	AllowedValues(ctx context.Context, project, issueType, field string) ([]jira.AllowedValue, error)
}

// Screenshots lists and reads the evidence of a test case.
type Screenshots interface {
	Files(tc *model.TestCase) ([]string, error)
	ReadAll(ctx context.Context, locations []string) map[string][]byte
}

// Action is what Reconcile did for a failed test case.
type Action string

const (
	ActionFiled      Action = "filed"
	ActionSuppressed Action = "suppressed"
	ActionSkipped    Action = "skipped"
)

// Decision is the result of Reconcile.
type Decision struct {
	Key    string
	Action Action
	BugKey string
}

// Filer files and deduplicates defects.
type Filer struct {
	tracker  Tracker
	shots    Screenshots
	index    *Index
	project  string
	bugType  string
	linkType string
	runID    string
	skipBugs bool
	bucket   int
	now      func() time.Time
	logger   *log.Logger
}

// Option configures a Filer.
type Option func(*Filer)

// WithIndex enables the local fingerprint index.
func WithIndex(x *Index) Option { return func(f *Filer) { f.index = x } }

// WithScreenshots attaches evidence to filed defects.
func WithScreenshots(s Screenshots) Option { return func(f *Filer) { f.shots = s } }

// WithRunID tags index records with the sync run.
func WithRunID(id string) Option { return func(f *Filer) { f.runID = id } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(f *Filer) { f.logger = l } }

// WithClock overrides the time source used in defect bodies.
func WithClock(now func() time.Time) Option { return func(f *Filer) { f.now = now } }

// NewFiler returns a Filer using the project and defect settings of cfg.
func NewFiler(tracker Tracker, cfg *config.Config, opts ...Option) *Filer {
	f := &Filer{
		tracker:  tracker,
		project:  cfg.Jira.Project,
		bugType:  cfg.Jira.BugType,
		linkType: cfg.Jira.LinkType,
		skipBugs: cfg.Sync.SkipBugs,
		bucket:   cfg.Xray.BucketSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.bucket < 1 {
		f.bucket = config.DefaultBucketSize
	}
	if f.logger == nil {
		f.logger = logging.New(logging.ComponentDefect)
	}
	return f
}

// Candidates returns the open defects linked to the test of tc.
func (f *Filer) Candidates(ctx context.Context, tc *model.TestCase) ([]model.Issue, error) {
	test, err := f.tracker.GetIssue(ctx, tc.Key)
	if err != nil {
		return nil, err
	}
	if test == nil {
		return nil, nil
	}

	links, _ := test.Field("issuelinks").([]any)
	var keys []string
	for _, l := range links {
		link, ok := l.(map[string]any)
		if !ok {
			continue
		}
		for _, side := range []string{"inwardIssue", "outwardIssue"} {
			other, ok := link[side].(map[string]any)
			if !ok {
				continue
			}
			if !model.SameType(jsonutil.String(other, "fields.issuetype.name"), f.bugType) {
				continue
			}
			if strings.EqualFold(jsonutil.String(other, "fields.status.statusCategory.key"), "done") {
				continue
			}
			keys = append(keys, jsonutil.Scalar(other["key"]))
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return f.tracker.GetIssues(ctx, f.bucket, keys)
}

// Reconcile suppresses filing when an open defect linked to the test
// matches the failure, and files a new one otherwise. Passing test cases
// are skipped.
func (f *Filer) Reconcile(ctx context.Context, tc *model.TestCase) (Decision, error) {
	d := Decision{Key: tc.Key, Action: ActionSkipped}
	if !tc.HasFailure() && tc.Outcome() != model.OutcomeFail {
		return d, nil
	}

	fp := FingerprintOf(tc)
	candidates, err := f.Candidates(ctx, tc)
	if err != nil {
		return d, fmt.Errorf("listing defects of %s: %w", tc.Key, err)
	}
	known := f.preferIndexed(ctx, fp, tc.Key, candidates)

	for _, bug := range candidates {
		if !IsMatch(tc, bug.Description()) {
			if slices.Contains(known, bug.Key) {
				f.forget(ctx, fp, tc.Key, bug.Key)
			}
			continue
		}
		f.logger.Info("matching defect found", "key", tc.Key, "bug", bug.Key)
		f.record(ctx, fp, tc.Key, bug.Key)
		tc.Set(model.ContextBugKey, bug.Key)
		d.Action, d.BugKey = ActionSuppressed, bug.Key
		return d, nil
	}

	if f.skipBugs {
		return d, nil
	}
	bug, err := f.File(ctx, tc)
	if err != nil {
		return d, err
	}
	f.record(ctx, fp, tc.Key, bug.Key)
	d.Action, d.BugKey = ActionFiled, bug.Key
	return d, nil
}

// preferIndexed moves candidates the index already knows to the front and
// returns the known keys.
func (f *Filer) preferIndexed(ctx context.Context, fp Fingerprint, testKey string, candidates []model.Issue) []string {
	if f.index == nil || len(candidates) == 0 {
		return nil
	}
	known, err := f.index.Lookup(ctx, fp.Key(), testKey)
	if err != nil {
		f.logger.Warn("index lookup failed", "key", testKey, "error", err)
		return nil
	}
	slices.SortStableFunc(candidates, func(a, b model.Issue) int {
		ka, kb := slices.Contains(known, a.Key), slices.Contains(known, b.Key)
		switch {
		case ka && !kb:
			return -1
		case kb && !ka:
			return 1
		}
		return 0
	})
	return known
}

func (f *Filer) forget(ctx context.Context, fp Fingerprint, testKey, bugKey string) {
	f.logger.Debug("indexed defect no longer matches", "key", testKey, "bug", bugKey)
	if err := f.index.Forget(ctx, fp.Key(), testKey, bugKey); err != nil {
		f.logger.Warn("index update failed", "key", testKey, "bug", bugKey, "error", err)
	}
}

func (f *Filer) record(ctx context.Context, fp Fingerprint, testKey, bugKey string) {
	if f.index == nil {
		return
	}
	if err := f.index.Record(ctx, fp.Key(), testKey, bugKey, f.runID); err != nil {
		f.logger.Warn("index update failed", "key", testKey, "bug", bugKey, "error", err)
	}
}

type createBugVars struct {
	Project     string
	Summary     string
	Description string
	Environment string
	TestKey     string
	IssueType   string
	PriorityID  string
}

// File creates a defect for tc, links it to the test and attaches the
// test's screenshots. Link and attachment failures are logged; the defect
// is still returned.
func (f *Filer) File(ctx context.Context, tc *model.TestCase) (*model.Issue, error) {
	project := tc.Get(model.ContextProjectKey)
	if project == "" {
		project = f.project
	}
	if project == "" {
		return nil, errors.New("no project to file the defect in")
	}

	body, err := config.RenderRequest("create_bug", createBugVars{
		Project:     project,
		Summary:     tc.Scenario,
		Description: expand(RenderDescription(tc, f.now())),
		Environment: tc.Environment.Application,
		TestKey:     tc.Key,
		IssueType:   f.bugType,
		PriorityID:  f.priorityID(ctx, project, tc.Priority),
	})
	if err != nil {
		return nil, err
	}

	bug, err := f.tracker.CreateIssue(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("filing defect for %s: %w", tc.Key, err)
	}
	f.logger.Info("defect filed", "key", tc.Key, "bug", bug.Key)
	tc.Set(model.ContextBugKey, bug.Key)

	if err := f.tracker.CreateLink(ctx, f.linkType, bug.Key, tc.Key); err != nil {
		f.logger.Warn("defect link failed", "bug", bug.Key, "key", tc.Key, "error", err)
	}
	f.attach(ctx, bug.Key, tc)
	return bug, nil
}

func (f *Filer) attach(ctx context.Context, bugKey string, tc *model.TestCase) {
	if f.shots == nil {
		return
	}
	files, err := f.shots.Files(tc)
	if err != nil || len(files) == 0 {
		if err != nil {
			f.logger.Warn("listing screenshots failed", "key", tc.Key, "error", err)
		}
		return
	}
	data := f.shots.ReadAll(ctx, files)
	attachments := make([]jira.Attachment, 0, len(data))
	for _, loc := range files {
		if b, ok := data[loc]; ok {
			attachments = append(attachments, jira.Attachment{Name: filepath.Base(loc), Data: b})
		}
	}
	if err := f.tracker.AddAttachments(ctx, bugKey, attachments...); err != nil {
		f.logger.Warn("attaching screenshots failed", "bug", bugKey, "error", err)
	}
}

// priorityID maps "id - name" to an allowed priority of the defect type. No
// match leaves the priority to the tracker's default.
func (f *Filer) priorityID(ctx context.Context, project, priority string) string {
	m := priorityPattern.FindStringSubmatch(priority)
	if m == nil {
		return ""
	}
	allowed, err := f.tracker.AllowedValues(ctx, project, f.bugType, "priority")
	if err != nil {
		f.logger.Debug("priority lookup failed", "error", err)
		return ""
	}
	for _, v := range allowed {
		if v.ID == m[1] && strings.EqualFold(v.Name, m[2]) {
			return v.ID
		}
	}
	return ""
}

// expand turns escaped line breaks into real ones for the issue body.
func expand(text string) string {
	return strings.ReplaceAll(text, markdown.LineBreak, "\r\n")
}
