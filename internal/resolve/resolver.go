// Package resolve expands a root issue (plan, set, execution or single test)
// into the flat list of test cases it contains.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/jsonutil"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/precondition"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/xray"
)

// Kind is the closed set of issue variants the resolver knows how to expand.
type Kind int

const (
	KindUnknown Kind = iota
	KindTest
	KindSet
	KindPlan
	KindExecution
)

func (k Kind) String() string {
	switch k {
	case KindTest:
		return "test"
	case KindSet:
		return "set"
	case KindPlan:
		return "plan"
	case KindExecution:
		return "execution"
	default:
		return "unknown"
	}
}

// IssueStore is the part of the tracker client the resolver reads.
type IssueStore interface {
	GetIssue(ctx context.Context, key string) (*model.Issue, error)
	GetIssues(ctx context.Context, bucketSize int, keys []string) ([]model.Issue, error)
	CustomFieldID(ctx context.Context, schema string) (string, error)
}

// TestFetcher loads Test issues with their steps.
type TestFetcher interface {
	Fetch(ctx context.Context, bucketSize int, keys []string) ([]model.Issue, error)
}

// LinkSource lists related issues when a hierarchy custom field is absent
// from an issue, as on Xray Cloud.
type LinkSource interface {
	Linked(ctx context.Context, rel xray.Relation, issue model.Issue) ([]string, error)
}

// expandFunc returns the Test issue keys contained in root. Only fatal
// conditions are returned as errors.
type expandFunc func(r *Resolver, ctx context.Context, root model.Issue) ([]string, error)

// expanders is the dispatch table. KindUnknown has no entry.
var expanders = map[Kind]expandFunc{
	KindTest:      (*Resolver).expandTest,
	KindSet:       (*Resolver).expandSet,
	KindPlan:      (*Resolver).expandPlan,
	KindExecution: (*Resolver).expandExecution,
}

// Resolver expands root issues into test cases.
type Resolver struct {
	store      IssueStore
	fetcher    TestFetcher
	links      LinkSource
	xrayCfg    config.XrayConfig
	bucketSize int
	logger     *log.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLinks enables the Xray link fallback.
func WithLinks(l LinkSource) Option {
	return func(r *Resolver) { r.links = l }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New returns a Resolver. Issue type names, custom-field schemas and the
// bucket size come from xrayCfg.
func New(store IssueStore, fetcher TestFetcher, xrayCfg config.XrayConfig, opts ...Option) *Resolver {
	r := &Resolver{
		store:      store,
		fetcher:    fetcher,
		xrayCfg:    xrayCfg,
		bucketSize: xrayCfg.BucketSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bucketSize < 1 {
		r.bucketSize = config.DefaultBucketSize
	}
	if r.logger == nil {
		r.logger = logging.New(logging.ComponentResolver)
	}
	return r
}

// KindOf classifies an issue by its type name.
func (r *Resolver) KindOf(issue model.Issue) Kind {
	t := issue.Type()
	switch {
	case model.SameType(t, r.xrayCfg.TestType):
		return KindTest
	case model.SameType(t, r.xrayCfg.SetType):
		return KindSet
	case model.SameType(t, r.xrayCfg.PlanType):
		return KindPlan
	case model.SameType(t, r.xrayCfg.ExecutionType):
		return KindExecution
	default:
		return KindUnknown
	}
}

// Resolve expands one root key. Missing issues and unknown types yield an
// empty result; the error is reserved for fatal conditions such as a
// missing embedded request template or a canceled context.
func (r *Resolver) Resolve(ctx context.Context, rootKey string) ([]*model.TestCase, error) {
	return r.ResolveAll(ctx, []string{rootKey})
}

// ResolveAll expands several roots and loads every contained test once.
// Test cases come back in the order their keys were discovered.
func (r *Resolver) ResolveAll(ctx context.Context, rootKeys []string) ([]*model.TestCase, error) {
	var keys []string
	seen := map[string]bool{}
	for _, rootKey := range rootKeys {
		found, err := r.expandRoot(ctx, rootKey)
		if err != nil {
			return nil, err
		}
		for _, k := range found {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return r.testCases(ctx, keys)
}

func (r *Resolver) expandRoot(ctx context.Context, rootKey string) ([]string, error) {
	root, err := r.store.GetIssue(ctx, rootKey)
	if err != nil {
		r.logger.Warn("root issue lookup failed", "key", rootKey, "error", err)
		return nil, nil
	}
	if root == nil {
		r.logger.Warn("root issue not found", "key", rootKey)
		return nil, nil
	}

	kind := r.KindOf(*root)
	expand, ok := expanders[kind]
	if !ok {
		r.logger.Warn("no expansion rule for issue type", "key", rootKey, "type", root.Type())
		return nil, nil
	}
	keys, err := expand(r, ctx, *root)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("expanded", "key", rootKey, "kind", kind, "tests", len(keys))
	return keys, nil
}

func (r *Resolver) expandTest(_ context.Context, root model.Issue) ([]string, error) {
	return []string{root.Key}, nil
}

func (r *Resolver) expandSet(ctx context.Context, root model.Issue) ([]string, error) {
	refs, ok := r.fieldRefs(ctx, root, r.xrayCfg.Schemas.SetTests, "")
	if ok {
		return refs, nil
	}
	return r.linked(ctx, xray.RelationTestsOfSet, root)
}

// expandPlan flattens member sets one level; members that are neither tests
// nor sets are skipped.
func (r *Resolver) expandPlan(ctx context.Context, root model.Issue) ([]string, error) {
	refs, ok := r.fieldRefs(ctx, root, r.xrayCfg.Schemas.PlanTests, "")
	if !ok {
		var err error
		if refs, err = r.linked(ctx, xray.RelationTestsOfPlan, root); err != nil {
			return nil, err
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	members, err := r.store.GetIssues(ctx, r.bucketSize, refs)
	if err != nil {
		r.logger.Warn("plan members lookup failed", "key", root.Key, "error", err)
		return nil, nil
	}

	var (
		mu   sync.Mutex
		keys = make([][]string, len(members))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.bucketSize)
	for i, m := range members {
		switch r.KindOf(m) {
		case KindTest:
			keys[i] = []string{m.Key}
		case KindSet:
			g.Go(func() error {
				found, err := r.expandSet(gctx, m)
				if err != nil {
					return err
				}
				mu.Lock()
				keys[i] = found
				mu.Unlock()
				return nil
			})
		default:
			r.logger.Debug("skipping plan member", "plan", root.Key, "key", m.Key, "type", m.Type())
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for _, k := range keys {
		out = append(out, k...)
	}
	return out, nil
}

// expandExecution reads {test, association} pairs and keeps the test half.
func (r *Resolver) expandExecution(ctx context.Context, root model.Issue) ([]string, error) {
	refs, _ := r.fieldRefs(ctx, root, r.xrayCfg.Schemas.ExecutionTests, "b")
	return refs, nil
}

// fieldRefs reads issue references from the custom field registered under
// schema. ok is false when the field is unknown or absent on the issue, as
// opposed to present and empty.
func (r *Resolver) fieldRefs(ctx context.Context, issue model.Issue, schema, member string) ([]string, bool) {
	if schema == "" {
		return nil, false
	}
	fieldID, err := r.store.CustomFieldID(ctx, schema)
	if err != nil {
		r.logger.Warn("custom field lookup failed", "schema", schema, "error", err)
		return nil, false
	}
	if fieldID == "" {
		return nil, false
	}
	value := issue.Field(fieldID)
	if value == nil {
		return nil, false
	}
	return refs(value, member), true
}

// refs accepts a list of keys, a list of objects carrying the key under
// member, or a comma-separated string.
func refs(value any, member string) []string {
	switch v := value.(type) {
	case string:
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		out := jsonutil.Strings(v, "")
		if member != "" {
			out = append(out, jsonutil.Strings(v, member)...)
		}
		return out
	}
	return nil
}

// linked asks the link source for related keys. Lookup failures degrade to
// an empty result; a missing embedded template is returned.
func (r *Resolver) linked(ctx context.Context, rel xray.Relation, issue model.Issue) ([]string, error) {
	if r.links == nil {
		return nil, nil
	}
	ids, err := r.links.Linked(ctx, rel, issue)
	if err != nil {
		if errors.Is(err, config.ErrTemplateMissing) {
			return nil, fmt.Errorf("link lookup for %s: %w", issue.Key, err)
		}
		r.logger.Warn("link lookup failed", "key", issue.Key, "relation", rel, "error", err)
		return nil, nil
	}
	return ids, nil
}

// testCases loads the tests and attaches suite and data source to each.
func (r *Resolver) testCases(ctx context.Context, keys []string) ([]*model.TestCase, error) {
	issues, err := r.fetcher.Fetch(ctx, r.bucketSize, keys)
	if err != nil {
		return nil, err
	}

	out := make([]*model.TestCase, len(issues))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.bucketSize)
	for i, issue := range issues {
		g.Go(func() error {
			tc := ToTestCase(issue)
			suite, err := r.testSuite(gctx, issue)
			if err != nil {
				return err
			}
			data, err := r.dataSource(gctx, issue)
			if err != nil {
				return err
			}
			tc.TestSuite = suite
			tc.DataSource = data
			out[i] = tc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) testSuite(ctx context.Context, issue model.Issue) (string, error) {
	sets, ok := r.fieldRefs(ctx, issue, r.xrayCfg.Schemas.TestSet, "")
	if !ok {
		var err error
		if sets, err = r.linked(ctx, xray.RelationSetsOfTest, issue); err != nil {
			return "", err
		}
	}
	if len(sets) == 0 {
		return "", nil
	}
	return sets[0], nil
}

// dataSource merges the grids found in the test's preconditions. No
// preconditions leaves the data source empty.
func (r *Resolver) dataSource(ctx context.Context, issue model.Issue) (model.DataTable, error) {
	keys, ok := r.fieldRefs(ctx, issue, r.xrayCfg.Schemas.Preconditions, "")
	if !ok {
		var err error
		if keys, err = r.linked(ctx, xray.RelationPreconditions, issue); err != nil {
			return model.DataTable{}, err
		}
	}
	if len(keys) == 0 {
		return model.DataTable{}, nil
	}

	preconditions, err := r.store.GetIssues(ctx, r.bucketSize, keys)
	if err != nil {
		r.logger.Warn("precondition lookup failed", "key", issue.Key, "error", err)
		return model.DataTable{}, nil
	}
	descriptions := make([]string, 0, len(preconditions))
	for _, p := range preconditions {
		descriptions = append(descriptions, p.Description())
	}
	return precondition.FromDescriptions(descriptions...), nil
}
