package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/tasksmith/pkg/diagram"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/report"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	var (
		env   string
		iface int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered scenarios by environment and interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			envs := a.registry.Environments()
			if env != "" {
				envs = []string{env}
			}
			for _, e := range envs {
				ifaces := a.registry.Interfaces(e)
				if iface != 0 {
					ifaces = []int{iface}
				}
				for _, i := range ifaces {
					infos := a.registry.Scenarios(e, i)
					if len(infos) == 0 {
						continue
					}
					fmt.Fprintf(out, "\n%s / interface %d\n", e, i)
					report.Scenarios(out, infos)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "Only this environment")
	cmd.Flags().IntVarP(&iface, "interface", "i", 0, "Only this interface version")
	return cmd
}

func newDescribeCmd(opts *globalOptions) *cobra.Command {
	var (
		env   string
		iface int
	)
	cmd := &cobra.Command{
		Use:   "describe [scenario]",
		Short: "Print a registered scenario document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			info, err := a.registry.Lookup(env, iface, args[0])
			if err != nil {
				return err
			}
			sc, err := a.registry.Template(env, iface, args[0])
			if err != nil {
				return err
			}
			if info.Source != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "# source: %s\n", info.Source)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(sc); err != nil {
				return fmt.Errorf("encode scenario: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "Environment name")
	cmd.Flags().IntVarP(&iface, "interface", "i", 1, "Interface version (1-5)")
	_ = cmd.MarkFlagRequired("env")
	return cmd
}

func newDiagramCmd(opts *globalOptions) *cobra.Command {
	var (
		env    string
		iface  int
		file   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "diagram [scenario]",
		Short: "Draw the step flow and data edges of a scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sc *schema.Scenario
			switch {
			case file != "":
				var err error
				if sc, err = schema.LoadFile(file); err != nil {
					return err
				}
			case len(args) == 1:
				if env == "" {
					return fmt.Errorf("--env is required when drawing a registered scenario")
				}
				a, err := newApp(opts, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer a.close()
				if sc, err = a.registry.Template(env, iface, args[0]); err != nil {
					return err
				}
			default:
				return fmt.Errorf("a scenario name or --file is required")
			}

			out, err := diagram.Generate(sc, diagram.Format(format))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "Environment name")
	cmd.Flags().IntVarP(&iface, "interface", "i", 1, "Interface version (1-5)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Draw this scenario file instead of a registered scenario")
	cmd.Flags().StringVar(&format, "format", string(diagram.FormatASCII), "Output format: ascii or mermaid")
	return cmd
}
