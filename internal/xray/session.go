// Package xray talks to the Xray Cloud internal API, which authenticates
// each request with a short-lived context JWT scoped to one issue key.
//
// A Session owns one token and the HTTP transport that carries it. Tokens
// expire quickly, so callers open a fresh Session per retry cycle and close
// the old one.
package xray

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/jira"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/jsonutil"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

const (
	authExpiredText = "Authentication request has expired"
	maxResponseBody = 16 << 20
)

// ErrAuthExpired marks a response rejected because the session token
// expired. It is always safe to retry with a new Session.
var ErrAuthExpired = errors.New("xray: authentication request has expired")

// ErrSessionClosed is returned by requests on a closed Session.
var ErrSessionClosed = errors.New("xray: session closed")

// StatusError is any other non-2xx response.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("xray %s: status %d", e.Path, e.StatusCode)
}

// Store is the part of the issue store used to mint tokens.
type Store interface {
	Do(ctx context.Context, method, path string, payload any) (int, []byte, error)
	AuthHeader() string
}

// Client opens Sessions against one Xray deployment.
type Client struct {
	baseURL    string
	project    string
	store      Store
	httpClient jira.HTTPClient
	timeout    time.Duration
	logger     *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport used by Sessions.
func WithHTTPClient(c jira.HTTPClient) ClientOption {
	return func(x *Client) { x.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default transport.
func WithTimeout(d time.Duration) ClientOption {
	return func(x *Client) { x.timeout = d }
}

// WithLogger overrides the component logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(x *Client) { x.logger = l }
}

// NewClient returns a Client. project scopes token requests.
func NewClient(baseURL, project string, store Store, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		project: project,
		store:   store,
		timeout: config.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = config.DefaultXrayURL
	}
	if c.logger == nil {
		c.logger = logging.New(logging.ComponentXray)
	}
	return c
}

// Token mints a context JWT for issueKey through the tracker's gira
// endpoint. A missing request template is fatal and wraps
// config.ErrTemplateMissing.
func (c *Client) Token(ctx context.Context, issueKey string) (string, error) {
	body, err := config.RenderRequest("get_token", map[string]string{
		"Project":  c.project,
		"IssueKey": issueKey,
	})
	if err != nil {
		return "", err
	}

	status, resp, err := c.store.Do(ctx, http.MethodPost, "/rest/gira/1/", body)
	if err != nil {
		return "", fmt.Errorf("requesting token for %s: %w", issueKey, err)
	}
	if !jira.Success(status) {
		return "", fmt.Errorf("requesting token for %s: status %d", issueKey, status)
	}

	var doc any
	if err := json.Unmarshal(resp, &doc); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	options, ok := jsonutil.Find(doc, "options")
	if !ok {
		return "", fmt.Errorf("token response for %s has no options", issueKey)
	}

	// options is itself a JSON document, usually delivered as a string.
	opts := options
	if s, isString := options.(string); isString {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return "", fmt.Errorf("decoding token options: %w", err)
		}
		opts = decoded
	}
	jwt := jsonutil.String(opts, "contextJwt")
	if jwt == "" {
		return "", fmt.Errorf("token response for %s has no contextJwt", issueKey)
	}
	return jwt, nil
}

// Open mints a token for issueKey and returns a Session carrying it.
func (c *Client) Open(ctx context.Context, issueKey string) (*Session, error) {
	token, err := c.Token(ctx, issueKey)
	if err != nil {
		return nil, err
	}

	httpClient := c.httpClient
	var owned *http.Client
	if httpClient == nil {
		owned = &http.Client{Timeout: c.timeout, Transport: http.DefaultTransport.(*http.Transport).Clone()}
		httpClient = owned
	}

	c.logger.Debug("session opened", "key", issueKey)
	return &Session{
		baseURL: c.baseURL,
		token:   token,
		auth:    c.store.AuthHeader(),
		client:  httpClient,
		owned:   owned,
	}, nil
}

// Session is one authenticated client. It is safe for concurrent use until
// Close is called.
type Session struct {
	baseURL string
	token   string
	auth    string
	client  jira.HTTPClient
	owned   *http.Client
	closed  atomic.Bool
}

// Close releases the transport. Requests after Close fail with
// ErrSessionClosed. Close is idempotent and nil-safe.
func (s *Session) Close() {
	if s == nil || s.closed.Swap(true) {
		return
	}
	if s.owned != nil {
		s.owned.CloseIdleConnections()
	}
}

// Get issues an authenticated GET and classifies the response: auth expiry
// wraps ErrAuthExpired, other non-2xx responses are *StatusError.
func (s *Session) Get(ctx context.Context, path string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-acpt", s.token)
	if s.auth != "" {
		req.Header.Set("Authorization", s.auth)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if !jira.Success(resp.StatusCode) {
		if strings.Contains(string(body), authExpiredText) {
			return nil, fmt.Errorf("GET %s: %w", path, ErrAuthExpired)
		}
		return nil, &StatusError{Path: path, StatusCode: resp.StatusCode}
	}
	return body, nil
}

// Steps fetches the steps of a Test issue by id.
func (s *Session) Steps(ctx context.Context, issueID string) ([]model.RawStep, error) {
	body, err := s.Get(ctx, "/api/internal/test/"+url.PathEscape(issueID)+"/steps?startAt=0&maxResults=100")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Steps []model.RawStep `json:"steps"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding steps of %s: %w", issueID, err)
	}
	return payload.Steps, nil
}
