package jira

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:   srv.URL,
		User:      "qa@acme.io",
		Token:     "secret",
		UserAgent: "xraysync/test",
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_InvalidURL(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestAuthHeader(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", authHeader("u", ""))
	assert.Equal(t, "Bearer pat", authHeader("", "pat"))
	assert.Equal(t, "Basic dTpw", authHeader("u", "p"))
}

func TestDo_SendsHeaders(t *testing.T) {
	t.Parallel()
	var got http.Header
	var gotBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))

	status, _, err := c.Do(context.Background(), http.MethodPut, "rest/x", map[string]string{"a": "b"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, status)
	assert.True(t, strings.HasPrefix(got.Get("Authorization"), "Basic "))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "xraysync/test", got.Get("User-Agent"))
	assert.JSONEq(t, `{"a":"b"}`, gotBody)
}

func TestDoJSON_APIError(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessages":["Field 'x' is required"]}`))
	}))

	err := c.DoJSON(context.Background(), http.MethodPost, "/rest/api/2/issue", []byte(`{}`), nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Field 'x' is required", apiErr.Message)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestDoJSON_NotFoundIs(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.NotFoundHandler())

	err := c.DoJSON(context.Background(), http.MethodGet, "/missing", nil, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFirstAPIError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: "", want: "unknown error"},
		{name: "error messages", body: `{"errorMessages":["boom"]}`, want: "boom"},
		{name: "field errors", body: `{"errors":{"summary":"required"}}`, want: "summary: required"},
		{name: "message", body: `{"message":"Authentication request has expired"}`, want: "Authentication request has expired"},
		{name: "plain text", body: "gateway timeout", want: "gateway timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, firstAPIError([]byte(tt.body)))
		})
	}
}

func TestRateLimiter_Configured(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, RequestsPerSecond: 1000, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.InDelta(t, 1000, float64(c.limiter.Limit()), 0.001)

	for i := 0; i < 3; i++ {
		_, _, err := c.Do(context.Background(), http.MethodGet, "/", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_CanceledContext(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Do(ctx, http.MethodGet, "/", nil)
	require.Error(t, err)
}

// decodeJSON is shared by handler fakes in this package's tests.
func decodeJSON(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
	return v
}
