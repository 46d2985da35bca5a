// Package jira is the issue store: a small client for the Jira REST API and
// the Xray server endpoints hosted alongside it.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 16 << 20
	mediaTypeJSON   = "application/json"
)

// ErrNotFound is returned by lookups that must distinguish a missing record
// from a failed call.
var ErrNotFound = errors.New("not found")

// HTTPClient is the subset of *http.Client the store needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	User    string
	Token   string
	// RequestsPerSecond caps outgoing requests; zero or less means no cap.
	RequestsPerSecond float64
	Timeout           time.Duration
	UserAgent         string
	HTTPClient        HTTPClient
	Logger            *log.Logger
}

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// NewAPIError builds an APIError from a failed response body.
func NewAPIError(method, path string, status int, body []byte) *APIError {
	return &APIError{Method: method, Path: path, StatusCode: status, Message: firstAPIError(body)}
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to one Jira site. It is safe for concurrent use.
type Client struct {
	baseURL   string
	authValue string
	userAgent string
	client    HTTPClient
	limiter   *rate.Limiter
	logger    *log.Logger

	fieldsMu sync.Mutex
	fields   map[string]string // custom schema -> field id
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("jira: invalid base URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(logging.ComponentJira)
	}

	return &Client{
		baseURL:   base,
		authValue: authHeader(cfg.User, cfg.Token),
		userAgent: cfg.UserAgent,
		client:    httpClient,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// BaseURL returns the site root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// AuthHeader returns the Authorization header value sent on every request,
// for clients of sibling services that share the credentials.
func (c *Client) AuthHeader() string { return c.authValue }

// authHeader uses basic auth when a user is given (Jira Cloud API tokens)
// and a bearer token otherwise (server personal access tokens).
func authHeader(user, token string) string {
	switch {
	case token == "":
		return ""
	case user == "":
		return "Bearer " + token
	default:
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+token))
	}
}

// Do sends a request and returns the status code and body. path is either
// relative to the base URL or absolute. A non-nil payload is sent as JSON
// unless it is already a []byte, which is sent verbatim.
func (c *Client) Do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	switch p := payload.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(p)
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", mediaTypeJSON)
	if payload != nil {
		req.Header.Set("Content-Type", mediaTypeJSON)
	}
	return c.send(req)
}

// send applies auth and rate limiting and reads a bounded body.
func (c *Client) send(req *http.Request) (int, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return 0, nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	if c.authValue != "" {
		req.Header.Set("Authorization", c.authValue)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	c.logger.Debug("request", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "elapsed", time.Since(start).Round(time.Millisecond))
	return resp.StatusCode, data, nil
}

// DoJSON is Do plus status checking. A non-2xx response becomes an
// *APIError. When out is non-nil the body is decoded into it.
func (c *Client) DoJSON(ctx context.Context, method, path string, payload, out any) error {
	status, body, err := c.Do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if !Success(status) {
		return &APIError{Method: method, Path: path, StatusCode: status, Message: firstAPIError(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Success reports whether status is 2xx.
func Success(status int) bool {
	return status >= 200 && status < 300
}

// firstAPIError pulls the most useful message out of a Jira error body.
func firstAPIError(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "unknown error"
	}
	var payload struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
		Message       string            `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.ErrorMessages) > 0 {
			return payload.ErrorMessages[0]
		}
		for field, msg := range payload.Errors {
			return field + ": " + msg
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}
