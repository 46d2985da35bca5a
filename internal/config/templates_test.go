package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListTemplates_ExcludesRequests(t *testing.T) {
	t.Parallel()
	names, err := ListTemplates()
	require.NoError(t, err)
	assert.Contains(t, names, "default")
	assert.NotContains(t, names, "requests")
	assert.False(t, TemplateExists("requests"))
}

func TestRenderTemplate_Default(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	created, err := RenderTemplate("default", dir, TemplateVars{
		JiraURL: "https://acme.atlassian.net",
		User:    "qa@acme.io",
		Project: "XT",
	}, false)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, filepath.Join(dir, ConfigFileName), created[0])

	cfg, md, err := LoadFromFile(created[0])
	require.NoError(t, err)
	assert.Empty(t, md.Undecoded())
	assert.Equal(t, "XT", cfg.Jira.Project)
	assert.Equal(t, 15, cfg.Xray.BucketSize)
}

func TestRenderTemplate_SkipsExistingWithoutForce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, "# keep me\n")

	created, err := RenderTemplate("default", dir, TemplateVars{}, false)
	require.NoError(t, err)
	assert.Empty(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# keep me\n", string(data))

	created, err = RenderTemplate("default", dir, TemplateVars{Project: "XT"}, true)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestRenderTemplate_Unknown(t *testing.T) {
	t.Parallel()
	_, err := RenderTemplate("nope", t.TempDir(), TemplateVars{}, false)
	require.Error(t, err)
}

func TestRenderRequest_CreateBugEscapes(t *testing.T) {
	t.Parallel()
	body, err := RenderRequest("create_bug", map[string]string{
		"Project":     "XT",
		"Summary":     `Login "fails"`,
		"Description": `*On Iteration*: 1\r\n|a|b|`,
		"Environment": "chrome",
		"TestKey":     "XT-1",
		"IssueType":   "Bug",
		"PriorityID":  "",
	})
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, `Login "fails"`, decoded["fields"]["summary"])
	assert.Equal(t, `*On Iteration*: 1\r\n|a|b|`, decoded["fields"]["description"])
	_, hasPriority := decoded["fields"]["priority"]
	assert.False(t, hasPriority)
}

func TestRenderRequest_Missing(t *testing.T) {
	t.Parallel()
	_, err := RenderRequest("does_not_exist", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateMissing))
}
