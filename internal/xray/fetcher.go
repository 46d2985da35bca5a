package xray

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

// IssueGetter is the part of the issue store the fetcher reads from.
type IssueGetter interface {
	GetIssues(ctx context.Context, bucketSize int, keys []string) ([]model.Issue, error)
}

// SessionOpener mints authenticated sessions scoped to an issue key.
type SessionOpener interface {
	Open(ctx context.Context, issueKey string) (*Session, error)
}

// FetchEventType identifies a fetcher progress event.
type FetchEventType string

const (
	// FetchEventFetched is emitted when an issue's steps were loaded.
	FetchEventFetched FetchEventType = "fetched"
	// FetchEventRequeued is emitted when an item hit an expired token.
	FetchEventRequeued FetchEventType = "requeued"
	// FetchEventDropped is emitted when an item is given up on.
	FetchEventDropped FetchEventType = "dropped"
	// FetchEventCycle is emitted when a new session is opened for a retry cycle.
	FetchEventCycle FetchEventType = "cycle"
)

// FetchEvent reports fetcher progress.
type FetchEvent struct {
	Type    FetchEventType
	Key     string
	Attempt int
}

// FetchResult is the outcome of one Enrich call.
type FetchResult struct {
	// Issues holds the successfully enriched issues in input order.
	Issues []model.Issue
	// Dropped lists keys that exhausted their retries or the batch budget.
	Dropped []string
	// Attempts is the number of step requests sent.
	Attempts int64
	// Cycles is the number of sessions opened.
	Cycles int
}

// Fetcher loads Test issues together with their steps. Step requests run at
// most bucketSize at a time. Items whose token expired are retried in the
// next cycle with a fresh session; items that fail otherwise are dropped.
// The batch stops when nothing is queued or when the attempt budget of
// len(issues) * attemptFactor is spent.
type Fetcher struct {
	store           IssueGetter
	sessions        SessionOpener
	attemptFactor   int
	maxItemAttempts int
	logger          *log.Logger
	events          chan<- FetchEvent
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithAttemptFactor sets the batch budget multiplier.
func WithAttemptFactor(n int) FetcherOption {
	return func(f *Fetcher) { f.attemptFactor = n }
}

// WithMaxItemAttempts caps attempts per item so one item cannot use up the
// whole batch budget.
func WithMaxItemAttempts(n int) FetcherOption {
	return func(f *Fetcher) { f.maxItemAttempts = n }
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *log.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// WithFetchEvents sets a progress channel. Sends never block; events are
// dropped when the channel is full.
func WithFetchEvents(ch chan<- FetchEvent) FetcherOption {
	return func(f *Fetcher) { f.events = ch }
}

// NewFetcher returns a Fetcher with attemptFactor and maxItemAttempts of 5.
func NewFetcher(store IssueGetter, sessions SessionOpener, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		store:           store,
		sessions:        sessions,
		attemptFactor:   config.DefaultAttemptFactor,
		maxItemAttempts: config.DefaultMaxItemAttempts,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.attemptFactor < 1 {
		f.attemptFactor = 1
	}
	if f.maxItemAttempts < 1 {
		f.maxItemAttempts = 1
	}
	if f.logger == nil {
		f.logger = logging.New(logging.ComponentFetcher)
	}
	return f
}

// Fetch resolves keys through the issue store and enriches them with steps.
// Failed items are left out and logged. The error is non-nil only for
// packaging defects and context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, bucketSize int, keys []string) ([]model.Issue, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	issues, err := f.store.GetIssues(ctx, bucketSize, keys)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		f.logger.Warn("no issues found", "keys", strings.Join(keys, ","))
		return nil, nil
	}
	res, err := f.Enrich(ctx, bucketSize, issues)
	if err != nil {
		return nil, err
	}
	return res.Issues, nil
}

type workItem struct {
	pos      int
	issue    model.Issue
	attempts int
}

// Enrich attaches steps to already-fetched issues.
func (f *Fetcher) Enrich(ctx context.Context, bucketSize int, issues []model.Issue) (*FetchResult, error) {
	res := &FetchResult{}
	if len(issues) == 0 {
		return res, nil
	}
	if bucketSize < 1 {
		bucketSize = 1
	}

	queue := make([]*workItem, 0, len(issues))
	for i, is := range issues {
		queue = append(queue, &workItem{pos: i, issue: is})
	}
	budget := int64(len(issues) * f.attemptFactor)
	scope := issues[0].Key

	var (
		attempts atomic.Int64
		mu       sync.Mutex
		done     []*workItem
		dropped  []*workItem
	)

	var session *Session
	defer func() { session.Close() }()

	for len(queue) > 0 && attempts.Load() < budget {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		session.Close()
		s, err := f.sessions.Open(ctx, scope)
		if err != nil {
			if errors.Is(err, config.ErrTemplateMissing) {
				return nil, err
			}
			// Without a token every request in the cycle would fail; charge
			// the cycle against the budget and try again.
			f.logger.Warn("opening session failed", "key", scope, "error", err)
			for _, it := range queue {
				it.attempts++
			}
			attempts.Add(int64(len(queue)))
			res.Cycles++
			queue = f.requeueable(queue, &dropped)
			continue
		}
		session = s
		res.Cycles++
		if res.Cycles > 1 {
			f.emit(FetchEvent{Type: FetchEventCycle, Key: scope, Attempt: res.Cycles})
		}

		var retry []*workItem
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(bucketSize)

		for _, it := range queue {
			g.Go(func() error {
				if attempts.Add(1) > budget {
					attempts.Add(-1)
					mu.Lock()
					dropped = append(dropped, it)
					mu.Unlock()
					return nil
				}
				it.attempts++

				steps, err := session.Steps(gctx, it.issue.ID)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					it.issue.Steps = steps
					done = append(done, it)
					f.emit(FetchEvent{Type: FetchEventFetched, Key: it.issue.Key, Attempt: it.attempts})
				case errors.Is(err, ErrAuthExpired) && it.attempts < f.maxItemAttempts:
					retry = append(retry, it)
					f.emit(FetchEvent{Type: FetchEventRequeued, Key: it.issue.Key, Attempt: it.attempts})
				default:
					f.logger.Debug("step fetch failed", "key", it.issue.Key, "attempt", it.attempts, "error", err)
					dropped = append(dropped, it)
					f.emit(FetchEvent{Type: FetchEventDropped, Key: it.issue.Key, Attempt: it.attempts})
				}
				return nil
			})
		}
		_ = g.Wait()

		queue = retry
	}
	dropped = append(dropped, queue...)

	sort.Slice(done, func(i, j int) bool { return done[i].pos < done[j].pos })
	for _, it := range done {
		res.Issues = append(res.Issues, it.issue)
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].pos < dropped[j].pos })
	for _, it := range dropped {
		res.Dropped = append(res.Dropped, it.issue.Key)
	}
	res.Attempts = attempts.Load()

	if len(res.Dropped) > 0 {
		f.logger.Warn("issues omitted after retries",
			"count", len(res.Dropped), "keys", strings.Join(res.Dropped, ","), "attempts", res.Attempts)
	}
	f.logger.Debug("fetch finished", "fetched", len(res.Issues), "cycles", res.Cycles, "attempts", res.Attempts)
	return res, nil
}

// requeueable splits out items that reached their per-item cap.
func (f *Fetcher) requeueable(queue []*workItem, dropped *[]*workItem) []*workItem {
	keep := queue[:0]
	for _, it := range queue {
		if it.attempts >= f.maxItemAttempts {
			*dropped = append(*dropped, it)
			continue
		}
		keep = append(keep, it)
	}
	return keep
}

func (f *Fetcher) emit(ev FetchEvent) {
	if f.events == nil {
		return
	}
	select {
	case f.events <- ev:
	default:
	}
}
