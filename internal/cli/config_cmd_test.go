package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
[jira]
url = "https://acme.atlassian.net"
user = "qa@acme.test"
token = "secret-token-1234"
project = "QA"

[xray]
bucket_size = 4
`

func TestConfigDebug_ShowsSources(t *testing.T) {
	resetRootCmd(t)
	writeConfig(t, validConfig)
	t.Setenv("XRAYSYNC_JIRA_PROJECT", "OPS")

	out, code := execute(t, "config", "debug", "--no-color")
	require.Equal(t, 0, code, out)

	assert.Contains(t, out, "xraysync.toml")
	for _, section := range []string{"[jira]", "[xray]", "[xray.schemas]", "[sync]"} {
		assert.Contains(t, out, section)
	}
	assert.Regexp(t, `url\s+= "https://acme.atlassian.net"\s+\(source: file\)`, out)
	assert.Regexp(t, `project\s+= "OPS"\s+\(source: env\)`, out)
	assert.Regexp(t, `bucket_size\s+= 4\s+\(source: file\)`, out)
	assert.Regexp(t, `attempt_factor\s+= 5\s+\(source: default\)`, out)
}

func TestConfigDebug_MasksToken(t *testing.T) {
	resetRootCmd(t)
	writeConfig(t, validConfig)

	out, code := execute(t, "config", "debug", "--no-color")
	require.Equal(t, 0, code)
	assert.NotContains(t, out, "secret-token-1234")
	assert.Contains(t, out, `"********1234"`)
}

func TestConfigDebug_NoFile(t *testing.T) {
	resetRootCmd(t)
	t.Chdir(t.TempDir())

	out, code := execute(t, "config", "debug")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Config file: none found")
}

func TestConfigDebug_ExplicitPath(t *testing.T) {
	resetRootCmd(t)
	p := writeConfig(t, validConfig)
	t.Chdir(t.TempDir())

	out, code := execute(t, "--config", p, "config", "debug")
	require.Equal(t, 0, code)
	assert.Contains(t, out, p)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		want     []string
	}{
		{
			name:     "valid",
			body:     validConfig,
			wantCode: 0,
			want:     []string{"No issues found."},
		},
		{
			name:     "bad bucket size",
			body:     "[jira]\nurl = \"https://acme.atlassian.net\"\ntoken = \"t\"\n[xray]\nbucket_size = -2\n",
			wantCode: 1,
			want:     []string{"Errors:", "xray.bucket_size"},
		},
		{
			name:     "missing token warns",
			body:     "[jira]\nurl = \"https://acme.atlassian.net\"\n",
			wantCode: 0,
			want:     []string{"Warnings:", "jira.token"},
		},
		{
			name:     "unknown key",
			body:     validConfig + "\n[extra]\nkey = 1\n",
			wantCode: 0,
			want:     []string{"extra"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetRootCmd(t)
			writeConfig(t, tt.body)

			out, code := execute(t, "config", "validate")
			assert.Equal(t, tt.wantCode, code, out)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestFmtSecret(t *testing.T) {
	assert.Equal(t, `""`, fmtSecret(""))
	assert.Equal(t, `"****"`, fmtSecret("abc"))
	assert.Equal(t, `"********wxyz"`, fmtSecret("abcdwxyz"))
}
