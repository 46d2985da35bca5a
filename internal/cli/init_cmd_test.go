package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
)

func TestInitCmd_WritesStarterConfig(t *testing.T) {
	resetRootCmd(t)
	dir := t.TempDir()

	out, code := execute(t, "init", dir, "--url", "https://acme.atlassian.net", "--user", "qa@acme.test", "--project", "QA")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "created xraysync.toml")

	var cfg config.Config
	md, err := toml.DecodeFile(filepath.Join(dir, config.ConfigFileName), &cfg)
	require.NoError(t, err)
	assert.Empty(t, md.Undecoded())
	assert.Equal(t, "https://acme.atlassian.net", cfg.Jira.URL)
	assert.Equal(t, "qa@acme.test", cfg.Jira.User)
	assert.Equal(t, "QA", cfg.Jira.Project)
	assert.Equal(t, 15, cfg.Xray.BucketSize)
}

func TestInitCmd_RefusesExisting(t *testing.T) {
	resetRootCmd(t)
	dir := t.TempDir()
	target := filepath.Join(dir, config.ConfigFileName)
	require.NoError(t, os.WriteFile(target, []byte("# mine\n"), 0o600))

	_, code := execute(t, "init", dir)
	assert.Equal(t, 1, code)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "# mine\n", string(data))
}

func TestInitCmd_Force(t *testing.T) {
	resetRootCmd(t)
	dir := t.TempDir()
	target := filepath.Join(dir, config.ConfigFileName)
	require.NoError(t, os.WriteFile(target, []byte("# mine\n"), 0o600))

	_, code := execute(t, "init", dir, "--force", "--project", "OPS")
	require.Equal(t, 0, code)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), `project = "OPS"`)
}

func TestInitCmd_DefaultsToWorkingDir(t *testing.T) {
	resetRootCmd(t)
	dir := t.TempDir()
	t.Chdir(dir)

	_, code := execute(t, "init")
	require.Equal(t, 0, code)
	assert.FileExists(t, filepath.Join(dir, config.ConfigFileName))
}
