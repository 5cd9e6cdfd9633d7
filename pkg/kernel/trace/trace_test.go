package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var out []Event
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var evt Event
		require.NoError(t, json.Unmarshal([]byte(line), &evt), "raw: %s", line)
		out = append(out, evt)
	}
	return out
}

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "test-run-1")

	require.NoError(t, tw.EmitStepStart("s1", "list_users"))

	evts := decodeLines(t, &buf)
	require.Len(t, evts, 1)
	assert.Equal(t, EventStepStart, evts[0].Type)
	assert.Equal(t, "test-run-1", evts[0].RunID)
	assert.Equal(t, "s1", evts[0].Data["step_id"])
	assert.Equal(t, "list_users", evts[0].Data["action"])
}

func TestWriter_EmitStepComplete_WithFailure(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	err := tw.EmitStepComplete("s1", StatusFailed, nil, 50*time.Millisecond, &Failure{
		Kind: "ActionReturnedError", Message: "action returned error: boom",
	})
	require.NoError(t, err)

	evt := decodeLines(t, &buf)[0]
	assert.Equal(t, "failed", evt.Data["status"])
	failure, ok := evt.Data["failure"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ActionReturnedError", failure["kind"])
}

func TestWriter_HashChaining(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitStepStart("s1", "a")
	tw.EmitStepComplete("s1", StatusSuccess, nil, 0, nil)
	tw.EmitStepStart("s2", "b")

	evts := decodeLines(t, &buf)
	require.Len(t, evts, 3)
	assert.Equal(t, strings.Repeat("0", 64), evts[0].PrevHash)
	assert.NotEqual(t, evts[0].PrevHash, evts[1].PrevHash)
	assert.NotEqual(t, evts[1].PrevHash, evts[2].PrevHash)
}

func TestWriter_RunComplete_ChainHash(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitStepStart("s1", "a")
	tw.EmitRunComplete("completed", 1, time.Second, nil)

	evts := decodeLines(t, &buf)
	chainHash, ok := evts[len(evts)-1].Data["chain_hash"].(string)
	require.True(t, ok)
	assert.Len(t, chainHash, 64)
}

func TestWriter_NilIsNoop(t *testing.T) {
	var tw *Writer
	assert.NoError(t, tw.EmitStepStart("s1", "a"))
	assert.NoError(t, tw.EmitRunComplete("completed", 0, 0, nil))
	assert.Equal(t, "", tw.RunID())
	assert.NoError(t, tw.Close())
}

func TestVerify_IntactChain(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitMergeStart("execution", []string{"a", "b"})
	tw.EmitRunStart("a", "hr", 1, nil)
	tw.EmitRunComplete("completed", 2, time.Millisecond, nil)
	tw.EmitMergeComplete("done", 4, 3, 1)

	res, err := Verify(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 4, res.EventCount)
	assert.Equal(t, -1, res.BrokenAt)
	assert.Len(t, res.ChainHash, 64)
}

func TestVerify_TamperedLine(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitStepStart("s1", "a")
	tw.EmitStepStart("s2", "b")
	tw.EmitStepStart("s3", "c")

	tampered := strings.Replace(buf.String(), `"s2"`, `"sX"`, 1)
	res, err := Verify(strings.NewReader(tampered))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 3, res.BrokenAt)
}

func TestVerify_Signature(t *testing.T) {
	t.Setenv(SigningKeyEnv, "s3cret")

	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitStepStart("s1", "a")
	tw.EmitRunComplete("completed", 1, time.Millisecond, nil)

	res, err := Verify(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.True(t, res.SignatureOK)
	assert.Equal(t, SigningKeyEnv, res.SigningKeyID)

	t.Setenv(SigningKeyEnv, "")
	res, err = Verify(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.True(t, res.SignatureNoKey)
}
