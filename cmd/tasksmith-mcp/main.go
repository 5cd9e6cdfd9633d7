// Package main provides the tasksmith-mcp binary, an MCP server for AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/config"
	tmcp "github.com/ormasoftchile/tasksmith/pkg/ecosystem/mcp"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/executor"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/interfaces"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/merge"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/registry"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/snapshot"
	applog "github.com/ormasoftchile/tasksmith/pkg/log"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the MCP protocol; logs go to stderr.
	logger, err := applog.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var runner executor.Runner
	switch cfg.ActionTransport {
	case config.TransportJSONRPC:
		rpc := executor.NewRPC(cfg.ActionCommand, cfg.ActionArgs, cfg.ActionTimeout, logger)
		defer rpc.Close()
		runner = rpc
	default:
		runner = executor.NewStdio(cfg.ActionCommand, cfg.ActionArgs, cfg.ActionTimeout, logger)
	}

	var meta contract.MetadataProvider = runner
	if cfg.Catalog != "" {
		cat, err := contract.LoadCatalogFile(cfg.Catalog)
		if err != nil {
			return err
		}
		meta = cat
	}
	meta = contract.NewCache(meta)

	eng, err := engine.New(engine.Config{
		Metadata:       meta,
		Executor:       runner,
		Snapshots:      snapshot.NewDir(cfg.EnvsDir, cfg.DataTmpDir, logger),
		Interfaces:     interfaces.NewCache(cfg.EnvsDir, logger),
		Logger:         logger,
		StrictRequired: cfg.StrictRequired,
		AutoAudit:      cfg.AutoAudit,
		AuditUserParam: cfg.AuditUserParam,
	})
	if err != nil {
		return err
	}

	reg := registry.New(logger)
	if _, err := reg.LoadDir(cfg.ScenariosDir); err != nil {
		logger.Warn("scenario loading reported errors", zap.Error(err))
	}

	s := tmcp.NewServer(version, &tmcp.Backend{
		Registry: reg,
		Engine:   eng,
		Merger:   merge.New(reg, eng, logger),
		Metadata: meta,
		Logger:   logger,
	})
	return server.ServeStdio(s)
}
