package executor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

const runnerScript = `#!/bin/sh
read -r line
case "$line" in
  *'"op":"describe"'*'"action":"ghost"'*)
    echo '{"error": "unknown action ghost"}' ;;
  *'"op":"describe"'*)
    echo '{"type":"function","function":{"name":"ping","parameters":{"properties":{"x":{"type":"string"}},"required":["x"]}}}' ;;
  *'"action":"fail"'*)
    echo "traceback: boom" >&2
    exit 3 ;;
  *'"action":"slow"'*)
    exec sleep 5 ;;
  *'"action":"plain"'*)
    echo "  not json at all  " ;;
  *)
    echo "loading environment..."
    printf '%s\n' "$line" ;;
esac
`

func newScriptRunner(t *testing.T, timeout time.Duration) *Stdio {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(path, []byte(runnerScript), 0o755))
	return NewStdio("/bin/sh", []string{path}, timeout, nil)
}

func TestStdio_InvokeFiltersChatter(t *testing.T) {
	s := newScriptRunner(t, 5*time.Second)

	out, err := s.Invoke(context.Background(), Invocation{
		Action:      "create_user",
		Arguments:   map[string]value.Value{"email": value.String("a@b.c")},
		Data:        "/tmp/snap.json",
		Environment: "hr_experts",
		Interface:   2,
	})
	require.NoError(t, err)

	v, err := value.ParseString(out)
	require.NoError(t, err, "chatter line must be dropped: %q", out)
	op, _ := v.Field("op")
	assert.Equal(t, "invoke", op.Text())
	df, _ := v.Field("data_file")
	assert.Equal(t, "/tmp/snap.json", df.Text())
	iface, _ := v.Field("interface")
	assert.Equal(t, "2", iface.Text())
	email, err := v.Get("arguments.email")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", email.Text())
}

func TestStdio_NonJSONOutputIsKept(t *testing.T) {
	s := newScriptRunner(t, 5*time.Second)
	out, err := s.Invoke(context.Background(), Invocation{Action: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "not json at all", out)
}

func TestStdio_NonZeroExit(t *testing.T) {
	s := newScriptRunner(t, 5*time.Second)
	_, err := s.Invoke(context.Background(), Invocation{Action: "fail"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunner)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, err.Error(), "traceback: boom")
}

func TestStdio_Timeout(t *testing.T) {
	s := newScriptRunner(t, 100*time.Millisecond)
	start := time.Now()
	_, err := s.Invoke(context.Background(), Invocation{Action: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunner)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestStdio_Describe(t *testing.T) {
	s := newScriptRunner(t, 5*time.Second)

	meta, err := s.Metadata(context.Background(), "ping", "hr_experts", 1)
	require.NoError(t, err)
	assert.Equal(t, "ping", meta.Name)
	assert.Equal(t, []string{"x"}, meta.RequiredParams())

	_, err = s.Metadata(context.Background(), "ghost", "hr_experts", 1)
	assert.ErrorIs(t, err, contract.ErrActionNotFound)
}

func TestStdio_NoCommand(t *testing.T) {
	_, err := (&Stdio{}).Invoke(context.Background(), Invocation{Action: "x"})
	assert.ErrorIs(t, err, ErrRunner)
}

func TestJSONLines(t *testing.T) {
	assert.Equal(t, `{"a":1}`, jsonLines("log line\r\n{\"a\":1}\r\n"))
	assert.Equal(t, "[1]\n{}", jsonLines("[1]\nnoise\n{}\n"))
	assert.Equal(t, "hello", jsonLines("\n hello \n"))
}
