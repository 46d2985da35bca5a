package xray

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

// fakeStore mints sequential tokens through the gira endpoint.
type fakeStore struct {
	tokens   atomic.Int32
	status   int
	response string
}

func (s *fakeStore) Do(_ context.Context, method, path string, payload any) (int, []byte, error) {
	if method != http.MethodPost || path != "/rest/gira/1/" {
		return http.StatusNotFound, nil, nil
	}
	n := s.tokens.Add(1)
	if s.status != 0 {
		return s.status, []byte(s.response), nil
	}
	body := fmt.Sprintf(`{"data":{"issue":{"ecosystem":{"forgeContext":[{"options":"{\"contextJwt\":\"jwt-%d\"}"}]}}}}`, n)
	return http.StatusOK, []byte(body), nil
}

func (s *fakeStore) AuthHeader() string { return "Basic abc" }

// stepServer serves /api/internal/test/{id}/steps. behave decides the
// response for the n-th call (1-based) for an id.
type stepServer struct {
	mu     sync.Mutex
	calls  map[string]int
	tokens map[string]bool
	behave func(id string, call int) (int, string)
}

func newStepServer(t *testing.T, behave func(id string, call int) (int, string)) (*stepServer, *httptest.Server) {
	t.Helper()
	s := &stepServer{calls: map[string]int{}, tokens: map[string]bool{}, behave: behave}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/internal/test/"), "/steps")
		s.mu.Lock()
		s.calls[id]++
		n := s.calls[id]
		s.tokens[r.Header.Get("X-acpt")] = true
		s.mu.Unlock()

		status, body := http.StatusOK, fmt.Sprintf(`{"steps":[{"id":%s1,"index":1,"action":"open %s","result":"ok"}]}`, id, id)
		if s.behave != nil {
			if st, b := s.behave(id, n); st != 0 {
				status, body = st, b
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *stepServer) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// staticIssues implements IssueGetter over fixed issues.
type staticIssues []model.Issue

func (s staticIssues) GetIssues(_ context.Context, _ int, keys []string) ([]model.Issue, error) {
	want := map[string]bool{}
	for _, k := range keys {
		want[k] = true
	}
	var out []model.Issue
	for _, is := range s {
		if want[is.Key] {
			out = append(out, is)
		}
	}
	return out, nil
}

func issues(n int) []model.Issue {
	out := make([]model.Issue, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.Issue{ID: fmt.Sprint(i), Key: fmt.Sprintf("T-%d", i)})
	}
	return out
}

func keysOf(in []model.Issue) []string {
	out := make([]string, 0, len(in))
	for _, is := range in {
		out = append(out, is.Key)
	}
	return out
}

const expiredBody = `{"error":"Authentication request has expired. Try reloading the page."}`

func newFetcher(t *testing.T, srv *httptest.Server, store *fakeStore, opts ...FetcherOption) *Fetcher {
	t.Helper()
	client := NewClient(srv.URL, "XT", store, WithLogger(logging.Discard()))
	opts = append([]FetcherOption{WithFetchLogger(logging.Discard())}, opts...)
	return NewFetcher(staticIssues(issues(5)), client, opts...)
}

func TestToken_ParsesContextJWT(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	c := NewClient("https://xray.example", "XT", store, WithLogger(logging.Discard()))

	token, err := c.Token(context.Background(), "XT-1")
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", token)
}

func TestToken_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   int
		response string
	}{
		{name: "non 2xx", status: http.StatusForbidden, response: `{}`},
		{name: "no options", status: http.StatusOK, response: `{"data":{}}`},
		{name: "no jwt", status: http.StatusOK, response: `{"options":"{\"other\":1}"}`},
		{name: "bad options", status: http.StatusOK, response: `{"options":"{not json"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewClient("", "XT", &fakeStore{status: tt.status, response: tt.response}, WithLogger(logging.Discard()))
			_, err := c.Token(context.Background(), "XT-1")
			require.Error(t, err)
		})
	}
}

func TestSession_ClassifiesErrors(t *testing.T) {
	t.Parallel()
	_, srv := newStepServer(t, func(id string, _ int) (int, string) {
		switch id {
		case "1":
			return http.StatusUnauthorized, expiredBody
		case "2":
			return http.StatusServiceUnavailable, "down"
		}
		return 0, ""
	})
	c := NewClient(srv.URL, "XT", &fakeStore{}, WithLogger(logging.Discard()))
	s, err := c.Open(context.Background(), "T-1")
	require.NoError(t, err)

	_, err = s.Steps(context.Background(), "1")
	assert.True(t, errors.Is(err, ErrAuthExpired))

	_, err = s.Steps(context.Background(), "2")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)

	steps, err := s.Steps(context.Background(), "3")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "open 3", steps[0].Action)

	s.Close()
	s.Close()
	_, err = s.Steps(context.Background(), "3")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestFetch_AllSucceed(t *testing.T) {
	t.Parallel()
	server, srv := newStepServer(t, nil)
	store := &fakeStore{}
	f := newFetcher(t, srv, store)

	got, err := f.Fetch(context.Background(), 2, []string{"T-1", "T-2", "T-3", "T-4", "T-5"})
	require.NoError(t, err)

	assert.Equal(t, []string{"T-1", "T-2", "T-3", "T-4", "T-5"}, keysOf(got))
	for _, is := range got {
		require.Len(t, is.Steps, 1)
	}
	assert.Equal(t, 5, server.total())
	assert.Equal(t, int32(1), store.tokens.Load(), "one session when nothing is retried")
}

func TestFetch_EmptyKeys(t *testing.T) {
	t.Parallel()
	server, srv := newStepServer(t, nil)
	store := &fakeStore{}
	f := newFetcher(t, srv, store)

	got, err := f.Fetch(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, server.total())
	assert.Zero(t, store.tokens.Load())
}

func TestEnrich_AuthExpiredTwiceThenSucceeds(t *testing.T) {
	t.Parallel()
	server, srv := newStepServer(t, func(_ string, call int) (int, string) {
		if call <= 2 {
			return http.StatusUnauthorized, expiredBody
		}
		return 0, ""
	})
	store := &fakeStore{}
	f := newFetcher(t, srv, store)

	res, err := f.Enrich(context.Background(), 3, issues(5))
	require.NoError(t, err)

	assert.Len(t, res.Issues, 5)
	assert.Empty(t, res.Dropped)
	assert.Equal(t, int64(15), res.Attempts)
	assert.Equal(t, 3, res.Cycles)
	assert.Equal(t, int32(3), store.tokens.Load(), "fresh token for every cycle")
	assert.Len(t, server.tokens, 3)
}

func TestEnrich_NonAuthFailureIsDropped(t *testing.T) {
	t.Parallel()
	server, srv := newStepServer(t, func(id string, _ int) (int, string) {
		if id == "2" {
			return http.StatusInternalServerError, "boom"
		}
		return 0, ""
	})
	events := make(chan FetchEvent, 16)
	f := newFetcher(t, srv, &fakeStore{}, WithFetchEvents(events))

	res, err := f.Enrich(context.Background(), 2, issues(5))
	require.NoError(t, err)

	assert.Equal(t, []string{"T-1", "T-3", "T-4", "T-5"}, keysOf(res.Issues))
	assert.Equal(t, []string{"T-2"}, res.Dropped)
	assert.Equal(t, 1, res.Cycles, "non-auth failures are not retried")
	assert.Equal(t, 5, server.total())

	close(events)
	var dropped []string
	for ev := range events {
		if ev.Type == FetchEventDropped {
			dropped = append(dropped, ev.Key)
		}
	}
	assert.Equal(t, []string{"T-2"}, dropped)
}

func TestEnrich_SingleKeyExpiresOnce(t *testing.T) {
	t.Parallel()
	server, srv := newStepServer(t, func(id string, call int) (int, string) {
		if id == "3" && call == 1 {
			return http.StatusUnauthorized, expiredBody
		}
		return 0, ""
	})
	f := newFetcher(t, srv, &fakeStore{})

	res, err := f.Enrich(context.Background(), 2, issues(5))
	require.NoError(t, err)

	assert.Equal(t, []string{"T-1", "T-2", "T-3", "T-4", "T-5"}, keysOf(res.Issues))
	assert.LessOrEqual(t, res.Attempts, int64(25))
	assert.Equal(t, int64(6), res.Attempts)
	assert.Equal(t, 6, server.total())
}

func TestEnrich_AlwaysExpiredIsBounded(t *testing.T) {
	t.Parallel()
	server, srv := newStepServer(t, func(string, int) (int, string) {
		return http.StatusUnauthorized, expiredBody
	})
	f := newFetcher(t, srv, &fakeStore{}, WithMaxItemAttempts(100))

	res, err := f.Enrich(context.Background(), 2, issues(5))
	require.NoError(t, err)

	assert.Empty(t, res.Issues)
	assert.Len(t, res.Dropped, 5)
	assert.Equal(t, int64(25), res.Attempts)
	assert.Equal(t, 25, server.total())
}

func TestEnrich_PerItemCapProtectsBudget(t *testing.T) {
	t.Parallel()
	_, srv := newStepServer(t, func(id string, _ int) (int, string) {
		if id == "1" {
			return http.StatusUnauthorized, expiredBody
		}
		return 0, ""
	})
	f := newFetcher(t, srv, &fakeStore{}, WithMaxItemAttempts(2))

	res, err := f.Enrich(context.Background(), 5, issues(5))
	require.NoError(t, err)

	assert.Len(t, res.Issues, 4)
	assert.Equal(t, []string{"T-1"}, res.Dropped)
	assert.Equal(t, int64(6), res.Attempts)
}

func TestEnrich_SessionOpenFailureIsBounded(t *testing.T) {
	t.Parallel()
	server, srv := newStepServer(t, nil)
	f := newFetcher(t, srv, &fakeStore{status: http.StatusBadGateway})

	res, err := f.Enrich(context.Background(), 2, issues(3))
	require.NoError(t, err)

	assert.Empty(t, res.Issues)
	assert.Len(t, res.Dropped, 3)
	assert.Zero(t, server.total())
}

func TestEnrich_CanceledContext(t *testing.T) {
	t.Parallel()
	_, srv := newStepServer(t, nil)
	f := newFetcher(t, srv, &fakeStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Enrich(ctx, 2, issues(2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLinked(t *testing.T) {
	t.Parallel()
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		_, _ = w.Write([]byte(`[{"id":"201"},{"id":202}]`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "XT", &fakeStore{}, WithLogger(logging.Discard()))

	ids, err := c.Linked(context.Background(), RelationPreconditions, model.Issue{ID: "100", Key: "XT-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"201", "202"}, ids)
	assert.Equal(t, "/api/internal/issuelinks/test/100/preConditions", gotPath)

	_, err = c.Linked(context.Background(), Relation("bogus"), model.Issue{})
	require.Error(t, err)
}
