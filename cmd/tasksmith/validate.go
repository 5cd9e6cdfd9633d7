package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	kvalidate "github.com/ormasoftchile/tasksmith/pkg/kernel/validate"
)

func newValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [scenario.yaml...]",
		Short: "Validate scenario/v0 YAML documents (3-phase pipeline)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var vopts kvalidate.Options
			catalog := opts.catalog
			if catalog == "" {
				if cfg, err := loadConfig(opts); err == nil {
					catalog = cfg.Catalog
				}
			}
			if catalog != "" {
				cat, err := contract.LoadCatalogFile(catalog)
				if err != nil {
					return err
				}
				vopts.Metadata = cat
			}

			failed := 0
			for _, path := range args {
				if !validateOne(cmd, path, vopts) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("validation failed for %d of %d file(s)", failed, len(args))
			}
			return nil
		},
	}
}

// validateOne prints the outcome for one file and reports whether it passed.
func validateOne(cmd *cobra.Command, path string, opts kvalidate.Options) bool {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		fmt.Fprintf(stderr, "  ⚠ %s is not a .yaml file\n", path)
		return false
	}

	sc, errs := kvalidate.ValidateFile(cmd.Context(), path, opts)
	errors := kvalidate.Errors(errs)
	if len(errors) > 0 {
		fmt.Fprintf(stderr, "%s: validation failed: %d error(s)\n\n", path, len(errors))
		for i, e := range errors {
			fmt.Fprintf(stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(stderr, "     at: %s\n", e.Path)
			}
		}
		printWarnings(stderr, errs)
		return false
	}

	fmt.Fprintf(stdout, "✓ %s is valid (%d steps)\n", sc.Meta.Name, len(sc.Steps))
	printWarnings(stderr, errs)
	return true
}

func printWarnings(w io.Writer, errs []*kvalidate.ValidationError) {
	for _, e := range errs {
		if e.Severity != kvalidate.SeverityWarning {
			continue
		}
		fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(w, "    at: %s\n", e.Path)
		}
	}
}
