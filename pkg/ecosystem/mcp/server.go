// Package mcp exposes scenario validation, runs and merges as MCP tools so
// AI agents can drive tasksmith.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/merge"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/registry"
)

// Backend holds what the tool handlers run against.
type Backend struct {
	Registry *registry.Registry
	Engine   *engine.Engine
	Merger   *merge.Merger
	// Metadata is optional; validate uses it to check actions.
	Metadata contract.MetadataProvider
	Logger   *zap.Logger
}

// NewServer creates a new MCP server with tasksmith tools registered.
func NewServer(version string, b *Backend) *server.MCPServer {
	if b.Logger == nil {
		b.Logger = zap.NewNop()
	}
	s := server.NewMCPServer(
		"tasksmith",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("tasksmith/validate",
			mcp.WithDescription("Validate a scenario/v0 YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the scenario YAML file")),
		),
		b.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("tasksmith/schema",
			mcp.WithDescription("Export the scenario/v0 JSON Schema"),
		),
		b.HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("tasksmith/list",
			mcp.WithDescription("List registered scenarios for an environment and interface"),
			mcp.WithString("environment", mcp.Required(), mcp.Description("Environment name, e.g. hr_experts")),
			mcp.WithNumber("interface", mcp.Required(), mcp.Description("Interface version (1-5)")),
		),
		b.HandleList,
	)

	s.AddTool(
		mcp.NewTool("tasksmith/run",
			mcp.WithDescription("Run one registered scenario and return the actions it produced"),
			mcp.WithString("scenario", mcp.Required(), mcp.Description("Scenario name")),
			mcp.WithString("environment", mcp.Required(), mcp.Description("Environment name")),
			mcp.WithNumber("interface", mcp.Required(), mcp.Description("Interface version (1-5)")),
			mcp.WithObject("params", mcp.Description("Scenario parameters")),
		),
		b.HandleRun,
	)

	s.AddTool(
		mcp.NewTool("tasksmith/merge",
			mcp.WithDescription("Run several scenarios in order, chaining outputs through mappings, and return the deduplicated action list"),
			mcp.WithArray("requests", mcp.Required(),
				mcp.Description("Requests: {scenario, environment, interface, params, mappings: [{target, source}], reuse_snapshot}"),
				mcp.Items(map[string]any{"type": "object"}),
			),
		),
		b.HandleMerge,
	)

	s.AddTool(
		mcp.NewTool("tasksmith/merge_templates",
			mcp.WithDescription("Merge the step lists of several scenarios without running them"),
			mcp.WithArray("scenarios", mcp.Required(),
				mcp.Description("Scenario names"),
				mcp.Items(map[string]any{"type": "string"}),
			),
			mcp.WithString("environment", mcp.Required(), mcp.Description("Environment name")),
			mcp.WithNumber("interface", mcp.Required(), mcp.Description("Interface version (1-5)")),
		),
		b.HandleMergeTemplates,
	)

	return s
}
