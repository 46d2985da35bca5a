package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

// searchPageSize is the number of keys sent in one JQL search.
const searchPageSize = 50

// GetIssue fetches one issue by key or id. A missing issue returns
// (nil, nil); any other failure returns an error.
func (c *Client) GetIssue(ctx context.Context, key string) (*model.Issue, error) {
	status, body, err := c.Do(ctx, http.MethodGet, "/rest/api/2/issue/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if !Success(status) {
		return nil, &APIError{Method: http.MethodGet, Path: "issue/" + key, StatusCode: status, Message: firstAPIError(body)}
	}
	issue, err := model.DecodeIssue(body)
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetIssues fetches many issues by key or id with JQL searches, running at
// most bucketSize searches at once. Jira rejects a whole search with 400
// when one key in it does not exist, so a rejected page is fetched again
// key by key. Other failed pages are logged and left out; the error is
// reserved for context cancellation. Results follow the order of keys, and
// duplicates are collapsed.
func (c *Client) GetIssues(ctx context.Context, bucketSize int, keys []string) ([]model.Issue, error) {
	keys = dedupe(keys)
	if len(keys) == 0 {
		return nil, nil
	}
	if bucketSize < 1 {
		bucketSize = 1
	}

	var (
		mu     sync.Mutex
		issues []model.Issue
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bucketSize)

	for start := 0; start < len(keys); start += searchPageSize {
		page := keys[start:min(start+searchPageSize, len(keys))]
		g.Go(func() error {
			found, err := c.search(gctx, "issue in ("+strings.Join(page, ",")+")", len(page))
			var apiErr *APIError
			if err != nil && len(page) > 1 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
				c.logger.Debug("issue search rejected, fetching keys one by one", "keys", len(page), "error", err)
				found, err = c.getEach(gctx, page), nil
			}
			if err != nil {
				c.logger.Warn("issue search failed", "keys", strings.Join(page, ","), "error", err)
				return nil
			}
			mu.Lock()
			issues = append(issues, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	position := make(map[string]int, len(keys))
	for i, k := range keys {
		position[k] = i
	}
	rank := func(is model.Issue) int {
		if p, ok := position[is.Key]; ok {
			return p
		}
		if p, ok := position[is.ID]; ok {
			return p
		}
		return len(keys)
	}
	sort.SliceStable(issues, func(i, j int) bool { return rank(issues[i]) < rank(issues[j]) })

	return issues, nil
}

// getEach fetches keys one at a time. Missing and failing keys are left out.
func (c *Client) getEach(ctx context.Context, keys []string) []model.Issue {
	var out []model.Issue
	for _, k := range keys {
		issue, err := c.GetIssue(ctx, k)
		switch {
		case err != nil:
			c.logger.Warn("issue lookup failed", "key", k, "error", err)
		case issue == nil:
			c.logger.Warn("issue not found", "key", k)
		default:
			out = append(out, *issue)
		}
	}
	return out
}

func (c *Client) search(ctx context.Context, jql string, maxResults int) ([]model.Issue, error) {
	payload := map[string]any{
		"jql":        jql,
		"maxResults": maxResults,
		"fields":     []string{"*all"},
	}
	var resp struct {
		Issues []json.RawMessage `json:"issues"`
	}
	if err := c.DoJSON(ctx, http.MethodPost, "/rest/api/2/search", payload, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Issue, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		issue, err := model.DecodeIssue(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, nil
}

// Search runs jql and returns the matching issues.
func (c *Client) Search(ctx context.Context, jql string, maxResults int) ([]model.Issue, error) {
	return c.search(ctx, jql, maxResults)
}

// CreateIssue posts a pre-rendered create body and returns the new issue's
// id, key and self link.
func (c *Client) CreateIssue(ctx context.Context, body []byte) (*model.Issue, error) {
	var created struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Self string `json:"self"`
	}
	if err := c.DoJSON(ctx, http.MethodPost, "/rest/api/2/issue", body, &created); err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}
	if created.Key == "" {
		return nil, errors.New("creating issue: response has no key")
	}
	return &model.Issue{ID: created.ID, Key: created.Key, Self: created.Self}, nil
}

// CreateLink links two issues. For "Blocks", inward blocks outward.
func (c *Client) CreateLink(ctx context.Context, linkType, inward, outward string) error {
	payload := map[string]any{
		"type":         map[string]string{"name": linkType},
		"inwardIssue":  map[string]string{"key": inward},
		"outwardIssue": map[string]string{"key": outward},
	}
	if err := c.DoJSON(ctx, http.MethodPost, "/rest/api/2/issueLink", payload, nil); err != nil {
		return fmt.Errorf("linking %s %s %s: %w", inward, linkType, outward, err)
	}
	return nil
}

// Attachment is a named file uploaded to an issue.
type Attachment struct {
	Name string
	Data []byte
}

// AddAttachments uploads files to an issue in one multipart request. No
// files is a no-op.
func (c *Client) AddAttachments(ctx context.Context, key string, files ...Attachment) error {
	if len(files) == 0 {
		return nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("file", f.Name)
		if err != nil {
			return fmt.Errorf("adding %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return fmt.Errorf("adding %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart body: %w", err)
	}

	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/attachments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path), &buf)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "no-check")

	status, body, err := c.send(req)
	if err != nil {
		return err
	}
	if !Success(status) {
		return &APIError{Method: http.MethodPost, Path: path, StatusCode: status, Message: firstAPIError(body)}
	}
	return nil
}

// CustomFieldID maps a custom-field schema name (e.g.
// "com.xpandit.plugins.xray:test-sets-tests-custom-field") to its field id.
// The field list is fetched once per client. An unknown schema returns "".
func (c *Client) CustomFieldID(ctx context.Context, schema string) (string, error) {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()

	if c.fields == nil {
		var fields []struct {
			ID     string `json:"id"`
			Schema struct {
				Custom string `json:"custom"`
			} `json:"schema"`
		}
		if err := c.DoJSON(ctx, http.MethodGet, "/rest/api/2/field", nil, &fields); err != nil {
			return "", fmt.Errorf("listing fields: %w", err)
		}
		c.fields = make(map[string]string, len(fields))
		for _, f := range fields {
			if f.Schema.Custom != "" {
				if _, seen := c.fields[f.Schema.Custom]; !seen {
					c.fields[f.Schema.Custom] = f.ID
				}
			}
		}
	}
	return c.fields[schema], nil
}

// AllowedValue is one option of a constrained field such as priority.
type AllowedValue struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AllowedValues reads the create-screen options of field for issueType in
// project.
func (c *Client) AllowedValues(ctx context.Context, project, issueType, field string) ([]AllowedValue, error) {
	q := url.Values{}
	q.Set("projectKeys", project)
	q.Set("issuetypeNames", issueType)
	q.Set("expand", "projects.issuetypes.fields")

	var meta struct {
		Projects []struct {
			IssueTypes []struct {
				Fields map[string]struct {
					AllowedValues []AllowedValue `json:"allowedValues"`
				} `json:"fields"`
			} `json:"issuetypes"`
		} `json:"projects"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/rest/api/2/issue/createmeta?"+q.Encode(), nil, &meta); err != nil {
		return nil, fmt.Errorf("reading create meta: %w", err)
	}
	for _, p := range meta.Projects {
		for _, it := range p.IssueTypes {
			if f, ok := it.Fields[field]; ok {
				return f.AllowedValues, nil
			}
		}
	}
	return nil, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
