package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// fakeRunner answers JSON-RPC requests on pipes the way a runner would.
func fakeRunner(t *testing.T, serverRead io.Reader, serverWrite io.WriteCloser) {
	t.Helper()
	go func() {
		scan := bufio.NewScanner(serverRead)
		for scan.Scan() {
			var req struct {
				ID     int64   `json:"id"`
				Method string  `json:"method"`
				Params request `json:"params"`
			}
			if err := json.Unmarshal(scan.Bytes(), &req); err != nil {
				continue
			}

			var body string
			switch req.Method {
			case "invoke":
				switch req.Params.Action {
				case "slow":
					continue // never answers
				case "crash":
					body = fmt.Sprintf(`{"jsonrpc":"2.0","id":"%d","error":{"code":"E_CRASH","message":"runner crashed"}}`, req.ID)
				default:
					// A notification and a stale id first; both must be skipped.
					fmt.Fprintf(serverWrite, `{"jsonrpc":"2.0","method":"progress"}`+"\n")
					fmt.Fprintf(serverWrite, `{"jsonrpc":"2.0","id":999,"result":{}}`+"\n")
					out, _ := json.Marshal(map[string]any{"action": req.Params.Action, "args": req.Params.Arguments, "data_file": req.Params.DataFile})
					body = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, out)
				}
			case "describe":
				if req.Params.Action == "unknown" {
					body = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"error":"no such action"}}`, req.ID)
				} else {
					body = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"function":{"name":%q,"parameters":{"properties":{"email":{"type":"string"}},"required":["email"]}}}}`, req.ID, req.Params.Action)
				}
			default:
				body = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
			}
			fmt.Fprintln(serverWrite, body)
		}
		serverWrite.Close()
	}()
}

func newPipeRPC(t *testing.T, timeout time.Duration) *RPC {
	t.Helper()
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()
	fakeRunner(t, serverRead, serverWrite)

	r := NewRPC("unused", nil, timeout, nil)
	r.proc = newPipeProcess(clientWrite, clientRead)
	return r
}

func TestRPC_Invoke(t *testing.T) {
	r := newPipeRPC(t, time.Second)

	out, err := r.Invoke(context.Background(), Invocation{
		Action:    "create_user",
		Arguments: map[string]value.Value{"email": value.String("a@b.c")},
		Data:      "/tmp/env_data.json",
	})
	require.NoError(t, err)

	v, err := value.ParseString(out)
	require.NoError(t, err)
	got, err := v.Get("args.email")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", got.Text())
	df, _ := v.Field("data_file")
	assert.Equal(t, "/tmp/env_data.json", df.Text())
}

func TestRPC_Describe(t *testing.T) {
	r := newPipeRPC(t, time.Second)

	meta, err := r.Metadata(context.Background(), "create_user", "hr", 1)
	require.NoError(t, err)
	assert.Equal(t, "create_user", meta.Name)
	assert.Equal(t, []string{"email"}, meta.RequiredParams())

	_, err = r.Metadata(context.Background(), "unknown", "hr", 1)
	assert.ErrorIs(t, err, contract.ErrActionNotFound)
}

func TestRPC_ErrorResponse(t *testing.T) {
	r := newPipeRPC(t, time.Second)

	_, err := r.Invoke(context.Background(), Invocation{Action: "crash"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunner)
	assert.Contains(t, err.Error(), "E_CRASH")
	assert.NotNil(t, r.proc, "protocol-level errors keep the process")
}

func TestRPC_TimeoutDropsProcess(t *testing.T) {
	r := newPipeRPC(t, 50*time.Millisecond)

	_, err := r.Invoke(context.Background(), Invocation{Action: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunner)
	assert.Contains(t, err.Error(), "timed out")
	assert.Nil(t, r.proc)
}

func TestRPCError_StringAndNumericCodes(t *testing.T) {
	var e rpcError
	require.NoError(t, json.Unmarshal([]byte(`{"code":-32000,"message":"x"}`), &e))
	assert.Equal(t, -32000, e.Code)

	require.NoError(t, json.Unmarshal([]byte(`{"code":"42","message":"y"}`), &e))
	assert.Equal(t, 42, e.Code)
	assert.Equal(t, "runner error [42]: y", e.Error())

	assert.Error(t, json.Unmarshal([]byte(`{"code":true}`), &e))
}

func TestMatchID(t *testing.T) {
	assert.True(t, matchID(json.RawMessage(`7`), 7))
	assert.True(t, matchID(json.RawMessage(`"7"`), 7))
	assert.False(t, matchID(json.RawMessage(`8`), 7))
	assert.False(t, matchID(json.RawMessage(`null`), 7))
}
