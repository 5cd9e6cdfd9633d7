package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/merge"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/registry"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/replay"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/snapshot"
)

const lookupYAML = `
apiVersion: scenario/v0
meta: {name: lookup_departments, environment: hr_experts, interface: 1}
inputs:
  - {name: status, type: string, required: true}
steps:
  - id: list
    action: list_departments
    inputs:
      - {target: status, from: scenario_input, key: status}
`

func newBackend(t *testing.T) *Backend {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "hr_experts", "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "hr_experts", "data", "departments.json"), []byte(`[]`), 0o644))

	rx := replay.NewExecutor(&replay.Fixture{Responses: map[string][]replay.Response{
		"list_departments": {
			{Output: map[string]any{"departments": []any{"D-1"}}},
			{Output: map[string]any{"departments": []any{"D-1"}}},
			{Output: map[string]any{"departments": []any{"D-1"}}},
		},
	}})
	eng, err := engine.New(engine.Config{
		Metadata:  rx,
		Executor:  rx,
		Snapshots: snapshot.NewDir(root, t.TempDir(), nil),
	})
	require.NoError(t, err)

	sc, err := schema.LoadBytes([]byte(lookupYAML))
	require.NoError(t, err)
	reg := registry.New(nil)
	require.NoError(t, reg.Register(sc, "inline"))

	return &Backend{Registry: reg, Engine: eng, Merger: merge.New(reg, eng, nil)}
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestHandleValidate_MissingPath(t *testing.T) {
	b := newBackend(t)
	res, err := b.HandleValidate(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleValidate_File(t *testing.T) {
	b := newBackend(t)
	path := filepath.Join(t.TempDir(), "lookup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(lookupYAML), 0o644))

	res, err := b.HandleValidate(context.Background(), call(map[string]any{"path": path}))
	require.NoError(t, err)
	assert.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "lookup_departments is valid (1 steps)")
}

func TestHandleSchema(t *testing.T) {
	b := newBackend(t)
	res, err := b.HandleSchema(context.Background(), call(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), schema.SchemaID)
}

func TestHandleList(t *testing.T) {
	b := newBackend(t)
	res, err := b.HandleList(context.Background(), call(map[string]any{"environment": "hr_experts", "interface": float64(1)}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var infos []registry.Info
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "lookup_departments", infos[0].Name)

	res, err = b.HandleList(context.Background(), call(map[string]any{"environment": "hr_experts"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleRun(t *testing.T) {
	b := newBackend(t)
	res, err := b.HandleRun(context.Background(), call(map[string]any{
		"scenario":    "lookup_departments",
		"environment": "hr_experts",
		"interface":   float64(1),
		"params":      map[string]any{"status": "active"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var got struct {
		Success bool `json:"success"`
		Actions []struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		} `json:"actions"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	assert.True(t, got.Success)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "list_departments", got.Actions[0].Name)
	assert.Equal(t, "active", got.Actions[0].Arguments["status"])
}

func TestHandleRun_MissingRequired(t *testing.T) {
	b := newBackend(t)
	res, err := b.HandleRun(context.Background(), call(map[string]any{
		"scenario":    "lookup_departments",
		"environment": "hr_experts",
		"interface":   float64(1),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "status is required (type: string)")
}

func TestHandleMerge_Deduplicates(t *testing.T) {
	b := newBackend(t)
	req := map[string]any{
		"scenario": "lookup_departments", "environment": "hr_experts", "interface": 1,
		"params": map[string]any{"status": "active"},
	}
	res, err := b.HandleMerge(context.Background(), call(map[string]any{"requests": []any{req, req}}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "2 total actions -> 1 unique actions (1 duplicates removed)")
}

func TestHandleMerge_BadRequests(t *testing.T) {
	b := newBackend(t)
	res, err := b.HandleMerge(context.Background(), call(map[string]any{"requests": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = b.HandleMerge(context.Background(), call(map[string]any{"requests": []any{map[string]any{"scenario": "x"}}}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "kind: ValidationFailed")
}

func TestHandleMergeTemplates(t *testing.T) {
	b := newBackend(t)
	res, err := b.HandleMergeTemplates(context.Background(), call(map[string]any{
		"scenarios":   []any{"lookup_departments", "LOOKUP_DEPARTMENTS"},
		"environment": "hr_experts",
		"interface":   float64(1),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var got merge.TemplateResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	assert.Len(t, got.MergedSteps, 1)
	assert.Equal(t, 1, got.DuplicatesRemoved)
}

func TestIntArg(t *testing.T) {
	n, ok := intArg(map[string]any{"i": float64(3)}, "i")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	_, ok = intArg(map[string]any{"i": 2.5}, "i")
	assert.False(t, ok)
	_, ok = intArg(map[string]any{}, "i")
	assert.False(t, ok)
}
