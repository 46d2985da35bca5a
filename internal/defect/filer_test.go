package defect

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/jira"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

type link struct{ typ, inward, outward string }

type fakeTracker struct {
	issues      map[string]model.Issue
	created     [][]byte
	links       []link
	attachments map[string][]jira.Attachment
	allowed     []jira.AllowedValue
	createErr   error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{issues: map[string]model.Issue{}, attachments: map[string][]jira.Attachment{}}
}

func (f *fakeTracker) GetIssue(_ context.Context, key string) (*model.Issue, error) {
	is, ok := f.issues[key]
	if !ok {
		return nil, nil
	}
	return &is, nil
}

func (f *fakeTracker) GetIssues(_ context.Context, _ int, keys []string) ([]model.Issue, error) {
	var out []model.Issue
	for _, k := range keys {
		if is, ok := f.issues[k]; ok {
			out = append(out, is)
		}
	}
	return out, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, body []byte) (*model.Issue, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, body)
	return &model.Issue{ID: "900", Key: "BUG-NEW"}, nil
}

func (f *fakeTracker) CreateLink(_ context.Context, linkType, inward, outward string) error {
	f.links = append(f.links, link{linkType, inward, outward})
	return nil
}

func (f *fakeTracker) AddAttachments(_ context.Context, key string, files ...jira.Attachment) error {
	f.attachments[key] = append(f.attachments[key], files...)
	return nil
}

func (f *fakeTracker) AllowedValues(context.Context, string, string, string) ([]jira.AllowedValue, error) {
	return f.allowed, nil
}

type fakeShots struct{ files map[string][]byte }

func (s *fakeShots) Files(*model.TestCase) ([]string, error) {
	var out []string
	for k := range s.files {
		out = append(out, k)
	}
	return out, nil
}

func (s *fakeShots) ReadAll(_ context.Context, locations []string) map[string][]byte {
	out := map[string][]byte{}
	for _, l := range locations {
		out[l] = s.files[l]
	}
	return out
}

// withBugs registers the test issue T-1 linked to the given defects.
func withBugs(f *fakeTracker, bugs ...model.Issue) {
	var links []any
	for _, b := range bugs {
		f.issues[b.Key] = b
		links = append(links, map[string]any{
			"type": map[string]any{"name": "Blocks"},
			"inwardIssue": map[string]any{
				"key":    b.Key,
				"fields": b.Fields,
			},
		})
	}
	f.issues["T-1"] = model.Issue{Key: "T-1", Fields: map[string]any{"issuelinks": links}}
}

func bug(key, status, description string) model.Issue {
	return model.Issue{Key: key, Fields: map[string]any{
		"issuetype":   map[string]any{"name": "Bug"},
		"status":      map[string]any{"statusCategory": map[string]any{"key": status}},
		"description": description,
	}}
}

func newTestFiler(tr *fakeTracker, opts ...Option) *Filer {
	cfg := config.NewDefaults()
	cfg.Jira.Project = "QA"
	opts = append([]Option{
		WithLogger(logging.Discard()),
		WithClock(func() time.Time { return filedAt }),
	}, opts...)
	return NewFiler(tr, cfg, opts...)
}

func TestReconcile_SuppressedByMatchingBug(t *testing.T) {
	tc := failedCase()
	tr := newFakeTracker()
	other := failedCase()
	other.Iteration = 0
	withBugs(tr,
		bug("BUG-1", "indeterminate", expand(RenderDescription(other, filedAt))),
		bug("BUG-2", "new", expand(RenderDescription(tc, filedAt))),
	)

	d, err := newTestFiler(tr).Reconcile(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, ActionSuppressed, d.Action)
	assert.Equal(t, "BUG-2", d.BugKey)
	assert.Equal(t, "BUG-2", tc.Get(model.ContextBugKey))
	assert.Empty(t, tr.created)
}

func TestReconcile_DoneBugsIgnored(t *testing.T) {
	tc := failedCase()
	tr := newFakeTracker()
	withBugs(tr, bug("BUG-1", "done", RenderDescription(tc, filedAt)))

	d, err := newTestFiler(tr).Reconcile(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, ActionFiled, d.Action)
	assert.Equal(t, "BUG-NEW", d.BugKey)
}

func TestReconcile_FilesWhenNoMatch(t *testing.T) {
	tc := failedCase()
	tc.Priority = "2 - High"
	tc.Set(model.ContextProjectKey, "WEB")
	tr := newFakeTracker()
	tr.allowed = []jira.AllowedValue{{ID: "1", Name: "Highest"}, {ID: "2", Name: "High"}}
	other := failedCase()
	other.Environment.Driver = "FirefoxDriver"
	withBugs(tr, bug("BUG-1", "new", RenderDescription(other, filedAt)))
	shots := &fakeShots{files: map[string][]byte{"/shots/T-1-1-a.png": []byte("png")}}

	d, err := newTestFiler(tr, WithScreenshots(shots)).Reconcile(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, ActionFiled, d.Action)
	assert.Equal(t, "BUG-NEW", tc.Get(model.ContextBugKey))

	require.Len(t, tr.created, 1)
	var body struct {
		Fields map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(tr.created[0], &body))
	assert.Equal(t, "WEB", body.Fields["project"].(map[string]any)["key"])
	assert.Equal(t, "Login works", body.Fields["summary"])
	assert.Equal(t, "2", body.Fields["priority"].(map[string]any)["id"])
	assert.Equal(t, "https://example.com", body.Fields["environment"])
	assert.True(t, IsMatch(tc, body.Fields["description"].(string)))

	assert.Equal(t, []link{{"Blocks", "BUG-NEW", "T-1"}}, tr.links)
	assert.Equal(t, []jira.Attachment{{Name: "T-1-1-a.png", Data: []byte("png")}}, tr.attachments["BUG-NEW"])
}

func TestReconcile_SkipBugs(t *testing.T) {
	tr := newFakeTracker()
	withBugs(tr)
	cfg := config.NewDefaults()
	cfg.Jira.Project = "QA"
	cfg.Sync.SkipBugs = true
	f := NewFiler(tr, cfg, WithLogger(logging.Discard()))

	d, err := f.Reconcile(context.Background(), failedCase())
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, d.Action)
	assert.Empty(t, tr.created)
}

func TestReconcile_PassingSkipped(t *testing.T) {
	tc := &model.TestCase{Key: "T-1", Steps: []model.TestStep{{Passed: true}}}
	d, err := newTestFiler(newFakeTracker()).Reconcile(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, d.Action)
}

func TestReconcile_CreateFails(t *testing.T) {
	tr := newFakeTracker()
	tr.createErr = errors.New("forbidden")
	withBugs(tr)

	_, err := newTestFiler(tr).Reconcile(context.Background(), failedCase())
	assert.ErrorContains(t, err, "forbidden")
}

func TestReconcile_RecordsInIndex(t *testing.T) {
	x, err := OpenIndex(":memory:")
	require.NoError(t, err)
	defer x.Close()

	tc := failedCase()
	tr := newFakeTracker()
	withBugs(tr, bug("BUG-7", "new", RenderDescription(tc, filedAt)))

	_, err = newTestFiler(tr, WithIndex(x), WithRunID("run-1")).Reconcile(context.Background(), tc)
	require.NoError(t, err)

	keys, err := x.Lookup(context.Background(), FingerprintOf(tc).Key(), "T-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"BUG-7"}, keys)
}

func TestReconcile_ForgetsStaleIndexEntry(t *testing.T) {
	x, err := OpenIndex(":memory:")
	require.NoError(t, err)
	defer x.Close()

	tc := failedCase()
	fp := FingerprintOf(tc).Key()
	require.NoError(t, x.Record(context.Background(), fp, "T-1", "BUG-5", "run-0"))

	edited := failedCase()
	edited.Environment.Driver = "FirefoxDriver"
	tr := newFakeTracker()
	withBugs(tr, bug("BUG-5", "new", RenderDescription(edited, filedAt)))

	d, err := newTestFiler(tr, WithIndex(x), WithRunID("run-1")).Reconcile(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, ActionFiled, d.Action)

	keys, err := x.Lookup(context.Background(), fp, "T-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"BUG-NEW"}, keys)
}

func TestPreferIndexed(t *testing.T) {
	x, err := OpenIndex(":memory:")
	require.NoError(t, err)
	defer x.Close()

	fp := FingerprintOf(failedCase())
	require.NoError(t, x.Record(context.Background(), fp.Key(), "T-1", "BUG-3", ""))

	f := newTestFiler(newFakeTracker(), WithIndex(x))
	candidates := []model.Issue{{Key: "BUG-1"}, {Key: "BUG-2"}, {Key: "BUG-3"}}
	known := f.preferIndexed(context.Background(), fp, "T-1", candidates)
	assert.Equal(t, []string{"BUG-3"}, known)
	assert.Equal(t, "BUG-3", candidates[0].Key)
	assert.Equal(t, "BUG-1", candidates[1].Key)
}
