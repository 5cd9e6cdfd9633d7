package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	ktesting "github.com/ormasoftchile/tasksmith/pkg/kernel/testing"
	applog "github.com/ormasoftchile/tasksmith/pkg/log"
	"github.com/ormasoftchile/tasksmith/pkg/report"
)

func newTestCmd(opts *globalOptions) *cobra.Command {
	var (
		caseName string
		asJSON   bool
		failFast bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "test [scenario.yaml...]",
		Short: "Run fixture-based test cases against scenario files",
		Long: "Test cases live next to the scenario in tests/<scenario-file>/<case>/, each with a\n" +
			"test.yaml (params and assertions) and a replay.yaml (canned action responses).",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := applog.NewWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer logger.Sync()

			runner := &ktesting.Runner{Timeout: timeout, FailFast: failFast, Logger: logger}
			if cfg.Catalog != "" {
				cat, err := contract.LoadCatalogFile(cfg.Catalog)
				if err != nil {
					return err
				}
				runner.Metadata = cat
			}
			out := cmd.OutOrStdout()
			allPassed := true

			for _, path := range args {
				var output *ktesting.TestOutput
				if caseName != "" {
					res, err := runner.RunCase(cmd.Context(), path, caseName)
					if err != nil {
						return err
					}
					output = singleCase(res)
				} else {
					output, err = runner.RunAll(cmd.Context(), path)
					if err != nil {
						return err
					}
				}

				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(output); err != nil {
						return err
					}
				} else {
					report.Tests(out, output)
				}
				if output.Summary.Failed > 0 || output.Summary.Errors > 0 {
					allPassed = false
				}
			}

			if !allPassed {
				return fmt.Errorf("tests failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&caseName, "case", "", "Run only the named test case (default: all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop after first failure")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Per-case timeout")
	return cmd
}

func singleCase(res *ktesting.TestResult) *ktesting.TestOutput {
	output := &ktesting.TestOutput{
		Scenario: res.ScenarioName,
		Cases:    []ktesting.TestResult{*res},
		Summary:  ktesting.TestSummary{Total: 1},
	}
	switch res.Status {
	case "passed":
		output.Summary.Passed = 1
	case "failed":
		output.Summary.Failed = 1
	case "skipped":
		output.Summary.Skipped = 1
	case "error":
		output.Summary.Errors = 1
	}
	return output
}
