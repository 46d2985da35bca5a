package jira

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetIssue(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/2/issue/XT-1":
			_, _ = w.Write([]byte(`{"id":"100","key":"XT-1","fields":{"issuetype":{"name":"Test"}}}`))
		case "/rest/api/2/issue/XT-500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	issue, err := c.GetIssue(ctx, "XT-1")
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, "Test", issue.Type())

	missing, err := c.GetIssue(ctx, "XT-404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = c.GetIssue(ctx, "XT-500")
	require.Error(t, err)
}

func TestGetIssues_OrderAndIsolation(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var queries []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/search", r.URL.Path)
		body := decodeJSON(t, r)
		jql := body["jql"].(string)
		mu.Lock()
		queries = append(queries, jql)
		mu.Unlock()

		if strings.Contains(jql, "BAD-1") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		inner := strings.TrimSuffix(strings.TrimPrefix(jql, "issue in ("), ")")
		var issues []string
		keys := strings.Split(inner, ",")
		for i := len(keys) - 1; i >= 0; i-- {
			issues = append(issues, fmt.Sprintf(`{"id":"%d","key":%q}`, i, keys[i]))
		}
		_, _ = fmt.Fprintf(w, `{"issues":[%s]}`, strings.Join(issues, ","))
	}))

	keys := make([]string, 0, 60)
	for i := 1; i <= 60; i++ {
		keys = append(keys, fmt.Sprintf("XT-%d", i))
	}
	keys = append(keys, "XT-1", " ")

	issues, err := c.GetIssues(context.Background(), 2, keys)
	require.NoError(t, err)
	require.Len(t, issues, 60)
	assert.Equal(t, "XT-1", issues[0].Key)
	assert.Equal(t, "XT-60", issues[59].Key)
	assert.Len(t, queries, 2, "60 keys need two search pages")

	issues, err = c.GetIssues(context.Background(), 2, []string{"BAD-1"})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestGetIssues_RejectedPageFallsBackPerKey(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var single []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rest/api/2/search":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorMessages":["An issue with key 'XT-404' does not exist for field 'issue'."]}`))
		case strings.HasPrefix(r.URL.Path, "/rest/api/2/issue/"):
			key := strings.TrimPrefix(r.URL.Path, "/rest/api/2/issue/")
			mu.Lock()
			single = append(single, key)
			mu.Unlock()
			if key == "XT-404" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = fmt.Fprintf(w, `{"id":"1","key":%q}`, key)
		}
	}))

	issues, err := c.GetIssues(context.Background(), 2, []string{"XT-2", "XT-404", "XT-1"})
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "XT-2", issues[0].Key)
	assert.Equal(t, "XT-1", issues[1].Key)
	assert.ElementsMatch(t, []string{"XT-2", "XT-404", "XT-1"}, single)
}

func TestGetIssues_Empty(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	}))

	issues, err := c.GetIssues(context.Background(), 15, nil)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestCreateIssueAndLink(t *testing.T) {
	t.Parallel()
	var link map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/2/issue":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"200","key":"XT-99","self":"https://acme/rest/api/2/issue/200"}`))
		case "/rest/api/2/issueLink":
			link = decodeJSON(t, r)
			w.WriteHeader(http.StatusCreated)
		}
	}))
	ctx := context.Background()

	created, err := c.CreateIssue(ctx, []byte(`{"fields":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "XT-99", created.Key)

	require.NoError(t, c.CreateLink(ctx, "Blocks", "XT-99", "XT-1"))
	assert.Equal(t, map[string]any{"name": "Blocks"}, link["type"])
	assert.Equal(t, map[string]any{"key": "XT-99"}, link["inwardIssue"])
	assert.Equal(t, map[string]any{"key": "XT-1"}, link["outwardIssue"])
}

func TestAddAttachments(t *testing.T) {
	t.Parallel()
	var names []string
	var token string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Atlassian-Token")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		for _, fh := range r.MultipartForm.File["file"] {
			names = append(names, fh.Filename)
			f, err := fh.Open()
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			assert.NotEmpty(t, data)
			f.Close()
		}
	}))

	err := c.AddAttachments(context.Background(), "XT-99",
		Attachment{Name: "a-1-.png", Data: []byte("png")},
		Attachment{Name: "b-2-.png", Data: []byte("png")},
	)
	require.NoError(t, err)
	assert.Equal(t, "no-check", token)
	assert.Equal(t, []string{"a-1-.png", "b-2-.png"}, names)

	require.NoError(t, c.AddAttachments(context.Background(), "XT-99"))
}

func TestCustomFieldID_Cached(t *testing.T) {
	t.Parallel()
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`[
			{"id":"summary","schema":{"type":"string"}},
			{"id":"customfield_10100","schema":{"custom":"com.xpandit.plugins.xray:test-sets-tests-custom-field"}}
		]`))
	}))
	ctx := context.Background()

	id, err := c.CustomFieldID(ctx, "com.xpandit.plugins.xray:test-sets-tests-custom-field")
	require.NoError(t, err)
	assert.Equal(t, "customfield_10100", id)

	id, err = c.CustomFieldID(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, 1, calls)
}

func TestAllowedValues(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bug", r.URL.Query().Get("issuetypeNames"))
		_, _ = w.Write([]byte(`{"projects":[{"issuetypes":[{"fields":{"priority":{"allowedValues":[
			{"id":"1","name":"Highest"},{"id":"3","name":"Medium"}
		]}}}]}]}`))
	}))

	values, err := c.AllowedValues(context.Background(), "XT", "Bug", "priority")
	require.NoError(t, err)
	assert.Equal(t, []AllowedValue{{ID: "1", Name: "Highest"}, {ID: "3", Name: "Medium"}}, values)

	values, err = c.AllowedValues(context.Background(), "XT", "Bug", "labels")
	require.NoError(t, err)
	assert.Nil(t, values)
}
