package main

import (
	"fmt"

	"github.com/spf13/cobra"

	kschema "github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/trace"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Export the scenario/v0 JSON Schema to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := kschema.GenerateScenarioJSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newTraceCmd() *cobra.Command {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(&cobra.Command{
		Use:   "verify [trace.jsonl]",
		Short: "Verify trace file integrity (hash chain + signature)",
		Args:  cobra.ExactArgs(1),
		RunE:  runTraceVerify,
	})
	return traceCmd
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	result, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}

	if !result.Valid {
		fmt.Fprintf(out, "✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}

	fmt.Fprintf(out, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)

	if result.ChainHash != "" {
		switch {
		case result.SignatureOK:
			keyLabel := result.SigningKeyID
			if keyLabel == "" {
				keyLabel = "(default)"
			}
			fmt.Fprintf(out, "✓ Signature valid: signed by key %q\n", keyLabel)
		case result.SignatureNoKey:
			fmt.Fprintf(out, "⚠ Signature present but no %s set to verify\n", trace.SigningKeyEnv)
		case result.SigningKeyID != "":
			fmt.Fprintln(out, "✗ Signature invalid")
			return fmt.Errorf("signature verification failed")
		}
	}
	return nil
}
