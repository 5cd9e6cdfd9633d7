package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/config"
	"github.com/ormasoftchile/tasksmith/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/executor"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/interfaces"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/merge"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/registry"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/replay"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/snapshot"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/trace"
	applog "github.com/ormasoftchile/tasksmith/pkg/log"
)

// app is everything a command runs against, built from config and flags.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *registry.Registry
	metadata contract.MetadataProvider
	engine   *engine.Engine
	merger   *merge.Merger
	trace    *trace.Writer

	recorder   *recorder.Recorder
	recordPath string
	closers    []func() error
}

// loadConfig reads TASKSMITH_* settings and applies flag overrides.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.scenariosDir != "" {
		cfg.ScenariosDir = opts.scenariosDir
	}
	if opts.envsDir != "" {
		cfg.EnvsDir = opts.envsDir
	}
	if opts.catalog != "" {
		cfg.Catalog = opts.catalog
	}
	if opts.trace != "" {
		cfg.Trace = opts.trace
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.strict {
		cfg.StrictRequired = true
	}
	return cfg, nil
}

// newApp wires the engine and its collaborators. The scenario registry is
// loaded from the scenarios directory. Callers must call close.
func newApp(opts *globalOptions, stderr io.Writer) (_ *app, err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := applog.NewWriter(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	exec, meta, err := a.actionRunner(opts)
	if err != nil {
		return nil, err
	}
	if cfg.Catalog != "" {
		cat, err := contract.LoadCatalogFile(cfg.Catalog)
		if err != nil {
			return nil, err
		}
		meta = cat
	}
	a.metadata = contract.NewCache(meta)

	if opts.record != "" {
		a.recorder = recorder.New(exec)
		a.recordPath = opts.record
		exec = a.recorder
	}

	if cfg.Trace != "" {
		a.trace, err = trace.NewFileWriter(cfg.Trace, uuid.NewString())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.trace.Close)
		rules, err := trace.CompileRedactions(cfg.TraceRedact)
		if err != nil {
			return nil, err
		}
		a.trace.SetRedactions(rules)
	}

	a.engine, err = engine.New(engine.Config{
		Metadata:       a.metadata,
		Executor:       exec,
		Snapshots:      snapshot.NewDir(cfg.EnvsDir, cfg.DataTmpDir, logger),
		Interfaces:     interfaces.NewCache(cfg.EnvsDir, logger),
		Trace:          a.trace,
		Logger:         logger,
		StrictRequired: cfg.StrictRequired,
		AutoAudit:      cfg.AutoAudit,
		AuditUserParam: cfg.AuditUserParam,
	})
	if err != nil {
		return nil, err
	}

	a.registry = registry.New(logger)
	n, err := a.registry.LoadDir(cfg.ScenariosDir)
	if err != nil {
		if n == 0 {
			return nil, err
		}
		logger.Warn("some scenarios failed to load", zap.Error(err))
	}
	a.merger = merge.New(a.registry, a.engine, logger)
	return a, nil
}

// actionRunner picks the replay fixture or the configured runner transport.
func (a *app) actionRunner(opts *globalOptions) (executor.ActionExecutor, contract.MetadataProvider, error) {
	if opts.replay != "" {
		fx, err := replay.LoadFixture(opts.replay)
		if err != nil {
			return nil, nil, err
		}
		rx := replay.NewExecutor(fx)
		return rx, rx, nil
	}

	switch a.cfg.ActionTransport {
	case config.TransportJSONRPC:
		rpc := executor.NewRPC(a.cfg.ActionCommand, a.cfg.ActionArgs, a.cfg.ActionTimeout, a.log)
		a.closers = append(a.closers, rpc.Close)
		return rpc, rpc, nil
	case config.TransportStdio:
		s := executor.NewStdio(a.cfg.ActionCommand, a.cfg.ActionArgs, a.cfg.ActionTimeout, a.log)
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown action transport %q", a.cfg.ActionTransport)
}

// close writes the recorded fixture, then releases transports and the trace.
func (a *app) close() error {
	var errs []error
	if a.recorder != nil {
		if err := a.recorder.WriteFixture(a.recordPath); err != nil {
			errs = append(errs, err)
		} else {
			a.log.Info("recorded replay fixture", zap.String("path", a.recordPath), zap.Int("responses", len(a.recorder.Responses)))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}
