package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/merge"
	"github.com/ormasoftchile/tasksmith/pkg/report"
)

func newMergeCmd(opts *globalOptions) *cobra.Command {
	var file, output string
	cmd := &cobra.Command{
		Use:   "merge -f requests.yaml",
		Short: "Run a chain of scenarios and merge their deduplicated action lists",
		Long: "Each request runs one scenario. Mappings feed parameters from scenarios that ran earlier,\n" +
			"written <scenario>.<stepId|@action|field>[.path]. The first failure aborts the merge.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			reqs, err := merge.LoadRequestsFile(file)
			if err != nil {
				return err
			}

			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.merger.MergeExecutions(cmd.Context(), reqs)
			if err != nil {
				return err
			}
			report.MergeSummary(cmd.ErrOrStderr(), res)
			return writeJSON(cmd.OutOrStdout(), output, res.Actions)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON list of scenario requests")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the merged action list to this file")
	return cmd
}

func newMergeTemplatesCmd(opts *globalOptions) *cobra.Command {
	var (
		env    string
		iface  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "merge-templates [scenario...]",
		Short: "Union the step templates of several scenarios without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.merger.MergeTemplates(cmd.Context(), args, env, iface)
			if err != nil {
				return err
			}
			report.TemplateSummary(cmd.ErrOrStderr(), res)
			return writeJSON(cmd.OutOrStdout(), output, res)
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "Environment name")
	cmd.Flags().IntVarP(&iface, "interface", "i", 1, "Interface version (1-5)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the merge result to this file")
	return cmd
}
