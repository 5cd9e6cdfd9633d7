package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/merge"
	kschema "github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	kvalidate "github.com/ormasoftchile/tasksmith/pkg/kernel/validate"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// HandleValidate implements the tasksmith/validate MCP tool.
func (b *Backend) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	sc, errs := kvalidate.ValidateFile(ctx, path, kvalidate.Options{Metadata: b.Metadata})
	if kvalidate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	return textResult(fmt.Sprintf("✓ %s is valid (%d steps)", sc.Meta.Name, len(sc.Steps))), nil
}

// HandleSchema implements the tasksmith/schema MCP tool.
func (b *Backend) HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := kschema.GenerateScenarioJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleList implements the tasksmith/list MCP tool.
func (b *Backend) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	env, _ := args["environment"].(string)
	iface, ok := intArg(args, "interface")
	if env == "" || !ok {
		return errorResult("environment and interface arguments are required"), nil
	}
	return jsonResult(b.Registry.Scenarios(env, iface), false)
}

// HandleRun implements the tasksmith/run MCP tool.
func (b *Backend) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, _ := args["scenario"].(string)
	env, _ := args["environment"].(string)
	iface, ok := intArg(args, "interface")
	if name == "" || env == "" || !ok {
		return errorResult("scenario, environment and interface arguments are required"), nil
	}

	params, err := paramsArg(args["params"])
	if err != nil {
		return errorResult(err.Error()), nil
	}

	inst, err := b.Registry.Instantiate(env, iface, name, params)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	res, err := b.Engine.Run(ctx, inst.Scenario, inst.Params, "")
	if err != nil {
		b.Logger.Warn("mcp run failed", zap.String("scenario", name), zap.Error(err))
		return failureResult(err), nil
	}
	return jsonResult(res, false)
}

// HandleMerge implements the tasksmith/merge MCP tool.
func (b *Backend) HandleMerge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["requests"]
	if !ok {
		return errorResult("requests argument is required"), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return errorResult(fmt.Sprintf("encode requests: %s", err)), nil
	}
	var reqs []merge.Request
	if err := json.Unmarshal(data, &reqs); err != nil {
		return errorResult(fmt.Sprintf("decode requests: %s", err)), nil
	}

	res, err := b.Merger.MergeExecutions(ctx, reqs)
	if err != nil {
		b.Logger.Warn("mcp merge failed", zap.Int("requests", len(reqs)), zap.Error(err))
		return failureResult(err), nil
	}
	return jsonResult(map[string]any{
		"summary": res.Summary(),
		"actions": res.Actions,
	}, false)
}

// HandleMergeTemplates implements the tasksmith/merge_templates MCP tool.
func (b *Backend) HandleMergeTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	env, _ := args["environment"].(string)
	iface, ok := intArg(args, "interface")
	if env == "" || !ok {
		return errorResult("environment and interface arguments are required"), nil
	}
	var names []string
	if list, ok := args["scenarios"].([]any); ok {
		for _, n := range list {
			if s, ok := n.(string); ok {
				names = append(names, s)
			}
		}
	}

	res, err := b.Merger.MergeTemplates(ctx, names, env, iface)
	if err != nil {
		return failureResult(err), nil
	}
	return jsonResult(res, false)
}

// intArg reads a JSON number argument as an int.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), v == float64(int(v))
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

func paramsArg(raw any) (map[string]value.Value, error) {
	params := map[string]value.Value{}
	if raw == nil {
		return params, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("params must be an object")
	}
	for k, v := range obj {
		pv, err := value.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("params.%s: %w", k, err)
		}
		params[k] = pv
	}
	return params, nil
}

func formatErrors(errs []*kvalidate.ValidationError) string {
	var msgs []string
	for _, e := range kvalidate.Errors(errs) {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func failureResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	if kind := engine.KindOf(err); kind != "" {
		msg = fmt.Sprintf("%s (kind: %s)", msg, kind)
	}
	return errorResult(msg)
}

func jsonResult(v any, isErr bool) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %s", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
