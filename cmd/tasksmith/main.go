// Package main provides the tasksmith CLI:
//
//	tasksmith validate <scenario.yaml...>
//	tasksmith run <scenario> --env <env> --param k=v
//	tasksmith merge -f requests.yaml
//	tasksmith merge-templates --env <env> <scenario...>
//	tasksmith list | describe | schema | trace verify
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tasksmith/pkg/report"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		report.Failure(os.Stderr, err)
		os.Exit(1)
	}
}

// globalOptions override the TASKSMITH_* settings for one invocation.
type globalOptions struct {
	scenariosDir string
	envsDir      string
	catalog      string
	replay       string
	record       string
	trace        string
	logLevel     string
	strict       bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "tasksmith",
		Short:         "Scenario workflow execution and merging engine",
		Long:          "tasksmith runs scenario workflows against a tool-action runner and merges the action lists they produce.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.scenariosDir, "scenarios", "", "Scenario root directory (default $TASKSMITH_SCENARIOS_DIR)")
	pf.StringVar(&opts.envsDir, "envs", "", "Environments directory (default $TASKSMITH_ENVS_DIR)")
	pf.StringVar(&opts.catalog, "catalog", "", "Tool catalog YAML served as action metadata")
	pf.StringVar(&opts.replay, "replay", "", "Serve action responses from a replay fixture instead of the runner")
	pf.StringVar(&opts.record, "record", "", "Record live action responses to a replay fixture")
	pf.StringVar(&opts.trace, "trace", "", "Write a JSONL trace to this file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&opts.strict, "strict", false, "Fail steps whose required parameters do not resolve")

	root.AddCommand(
		newValidateCmd(opts),
		newRunCmd(opts),
		newMergeCmd(opts),
		newMergeTemplatesCmd(opts),
		newListCmd(opts),
		newDescribeCmd(opts),
		newTestCmd(opts),
		newDiagramCmd(opts),
		newSchemaCmd(),
		newTraceCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tasksmith %s (%s)\n", version, commit)
		},
	}
}
