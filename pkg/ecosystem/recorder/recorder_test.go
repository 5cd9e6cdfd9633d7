package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/executor"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/replay"
)

type mockExecutor struct {
	outputs map[string]string
}

func (m *mockExecutor) Invoke(_ context.Context, inv executor.Invocation) (string, error) {
	out, ok := m.outputs[inv.Action]
	if !ok {
		return "", errors.New("runner exploded")
	}
	return out, nil
}

func TestRecorder_CapturesResponse(t *testing.T) {
	rec := New(&mockExecutor{outputs: map[string]string{"create_user": `{"user_id":"U-1"}`}})

	out, err := rec.Invoke(context.Background(), executor.Invocation{Action: "create_user"})
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":"U-1"}`, out)

	require.Len(t, rec.Responses, 1)
	assert.Equal(t, "create_user", rec.Responses[0].Action)
}

func TestRecorder_RedactsSecrets(t *testing.T) {
	t.Setenv("TEST_SECRET_KEY", "supersecret123")

	rec := New(&mockExecutor{outputs: map[string]string{"login": `{"token":"supersecret123"}`}})
	rec.SetSecrets([]string{"TEST_SECRET_KEY"})

	out, err := rec.Invoke(context.Background(), executor.Invocation{Action: "login"})
	require.NoError(t, err)
	assert.Contains(t, out, "supersecret123", "caller still sees the live output")
	assert.NotContains(t, rec.Responses[0].Output, "supersecret123")
	assert.Contains(t, rec.Responses[0].Output, "<REDACTED>")
}

func TestRecorder_FixtureReplays(t *testing.T) {
	rec := New(&mockExecutor{outputs: map[string]string{
		"create_user": `{"user_id":"U-1"}`,
		"notify":      "sent",
	}})
	ctx := context.Background()
	rec.Invoke(ctx, executor.Invocation{Action: "create_user"})
	rec.Invoke(ctx, executor.Invocation{Action: "notify"})
	rec.Invoke(ctx, executor.Invocation{Action: "broken"})

	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, rec.WriteFixture(path))

	fx, err := replay.LoadFixture(path)
	require.NoError(t, err)
	re := replay.NewExecutor(fx)

	out, err := re.Invoke(ctx, executor.Invocation{Action: "create_user"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"U-1"}`, out)

	out, err = re.Invoke(ctx, executor.Invocation{Action: "notify"})
	require.NoError(t, err)
	assert.Equal(t, "sent", out)

	_, err = re.Invoke(ctx, executor.Invocation{Action: "broken"})
	assert.ErrorContains(t, err, "runner exploded")
}
