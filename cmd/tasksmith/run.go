package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	kvalidate "github.com/ormasoftchile/tasksmith/pkg/kernel/validate"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
	"github.com/ormasoftchile/tasksmith/pkg/prompt"
	"github.com/ormasoftchile/tasksmith/pkg/report"
)

type runOptions struct {
	env         string
	iface       int
	params      []string
	file        string
	interactive bool
	output      string
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "Run one scenario and emit the actions it produced",
		Long: "Run a registered scenario (or a scenario file with --file) step by step against the action runner.\n" +
			"The action list is written as JSON to stdout or --output; the summary goes to stderr.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, opts, ro, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&ro.env, "env", "e", "", "Environment name")
	f.IntVarP(&ro.iface, "interface", "i", 1, "Interface version (1-5)")
	f.StringArrayVarP(&ro.params, "param", "p", nil, "Scenario parameter (key=value), repeatable")
	f.StringVarP(&ro.file, "file", "f", "", "Run this scenario file instead of a registered scenario")
	f.BoolVar(&ro.interactive, "interactive", false, "Prompt for missing required inputs")
	f.StringVarP(&ro.output, "output", "o", "", "Write the action list to this file")
	return cmd
}

func runScenario(cmd *cobra.Command, opts *globalOptions, ro *runOptions, args []string) error {
	a, err := newApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	var (
		name  string
		env   = ro.env
		iface = ro.iface
	)
	switch {
	case ro.file != "":
		sc, errs := kvalidate.ValidateFile(cmd.Context(), ro.file, kvalidate.Options{})
		if kvalidate.HasErrors(errs) {
			return fmt.Errorf("%s: %s", ro.file, kvalidate.Errors(errs)[0])
		}
		if err := a.registry.Register(sc, ro.file); err != nil {
			return err
		}
		name, env, iface = sc.Meta.Name, sc.Meta.Environment, sc.Meta.Interface
	case len(args) == 1:
		name = args[0]
		if env == "" {
			return fmt.Errorf("--env is required when running a registered scenario")
		}
	default:
		return fmt.Errorf("a scenario name or --file is required")
	}

	tmpl, err := a.registry.Template(env, iface, name)
	if err != nil {
		return err
	}
	params, err := parseParams(ro.params, tmpl)
	if err != nil {
		return err
	}
	if ro.interactive {
		if err := prompt.New(nil, nil).Fill(tmpl, params); err != nil {
			return err
		}
	}

	inst, err := a.registry.Instantiate(env, iface, name, params)
	if err != nil {
		return err
	}
	res, err := a.engine.Run(cmd.Context(), inst.Scenario, inst.Params, "")
	if err != nil {
		return err
	}
	a.log.Debug("scenario completed", zap.String("scenario", res.Scenario), zap.Int("actions", len(res.Actions)))

	report.Run(cmd.ErrOrStderr(), res)
	return writeJSON(cmd.OutOrStdout(), ro.output, res.Actions)
}

// parseParams turns key=value flags into parameters typed after the
// scenario's input declarations. Undeclared keys stay text.
func parseParams(raw []string, sc *schema.Scenario) (map[string]value.Value, error) {
	types := make(map[string]string, len(sc.Inputs))
	for _, in := range sc.Inputs {
		types[in.Name] = in.Type
	}
	params := make(map[string]value.Value, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", kv)
		}
		k = strings.TrimSpace(k)
		params[k] = prompt.Parse(v, types[k])
	}
	return params, nil
}

// writeJSON writes v indented to path, or to w when path is empty.
func writeJSON(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
