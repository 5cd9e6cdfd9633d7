package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "scenarios", cfg.ScenariosDir)
	assert.Equal(t, "envs", cfg.EnvsDir)
	assert.Equal(t, os.TempDir(), cfg.DataTmpDir)
	assert.Equal(t, "python3", cfg.ActionCommand)
	assert.Empty(t, cfg.ActionArgs)
	assert.Equal(t, TransportStdio, cfg.ActionTransport)
	assert.Equal(t, 30*time.Second, cfg.ActionTimeout)
	assert.False(t, cfg.StrictRequired)
	assert.False(t, cfg.AutoAudit)
	assert.Equal(t, "performing_user_id", cfg.AuditUserParam)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"TASKSMITH_ACTION_ARGS":      "run_tool.py,--quiet",
		"TASKSMITH_ACTION_TRANSPORT": "jsonrpc",
		"TASKSMITH_ACTION_TIMEOUT":   "5s",
		"TASKSMITH_STRICT_REQUIRED":  "true",
		"TASKSMITH_AUTO_AUDIT":       "true",
		"TASKSMITH_LOG_FORMAT":       "json",
		"TASKSMITH_TRACE_REDACT":     `\d{3}-\d{2}-\d{4};[\w.]+@example\.com`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"run_tool.py", "--quiet"}, cfg.ActionArgs)
	assert.Equal(t, TransportJSONRPC, cfg.ActionTransport)
	assert.Equal(t, 5*time.Second, cfg.ActionTimeout)
	assert.True(t, cfg.StrictRequired)
	assert.True(t, cfg.AutoAudit)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{`\d{3}-\d{2}-\d{4}`, `[\w.]+@example\.com`}, cfg.TraceRedact)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(map[string]string{"TASKSMITH_ACTION_TRANSPORT": "grpc"})
	assert.ErrorContains(t, err, "TASKSMITH_ACTION_TRANSPORT")

	_, err = Parse(map[string]string{"TASKSMITH_ACTION_TIMEOUT": "soon"})
	assert.Error(t, err)

	_, err = Parse(map[string]string{"TASKSMITH_LOG_FORMAT": "xml"})
	assert.ErrorContains(t, err, "TASKSMITH_LOG_FORMAT")

	_, err = Parse(map[string]string{"TASKSMITH_TRACE_REDACT": "(unclosed"})
	assert.ErrorContains(t, err, "TASKSMITH_TRACE_REDACT")
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`# comment
TASKSMITH_TEST_A="quoted"
export TASKSMITH_TEST_B=plain

TASKSMITH_TEST_C=from-file
not a pair
`), 0o644))
	t.Setenv("TASKSMITH_TEST_C", "from-env")

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() {
		os.Unsetenv("TASKSMITH_TEST_A")
		os.Unsetenv("TASKSMITH_TEST_B")
	})

	assert.Equal(t, "quoted", os.Getenv("TASKSMITH_TEST_A"))
	assert.Equal(t, "plain", os.Getenv("TASKSMITH_TEST_B"))
	assert.Equal(t, "from-env", os.Getenv("TASKSMITH_TEST_C"), "existing variables win")
}

func TestLoadDotEnv_Missing(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}
