package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"opspilot/internal/policy"
)

func newPoliciesCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect the active view policy set",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List view policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			views := []string{
				policy.ViewSummary, policy.ViewComposition, policy.ViewDependency,
				policy.ViewImpact, policy.ViewPath, policy.ViewNeighbors,
			}
			for _, name := range views {
				p, ok := cli.policies.GetViewPolicy(cmd.Context(), name)
				if !ok {
					fmt.Printf("%s %s\n", yellow(name), gray("(no policy)"))
					continue
				}
				fmt.Printf("%s depth=%d max=%d direction=%s categories=%s\n",
					cyan(bold(name)), p.DefaultDepth, p.MaxDepth, p.Direction,
					gray(strings.Join(p.OutputCategories, ",")))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Re-read the policy asset from the configuration store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.policies.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(green("policies refreshed"))
			return nil
		},
	})

	return cmd
}
