package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"opspilot/internal/toolreg"
)

func newToolsCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the registered tool fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			tools := cli.registry.List()
			names := make([]string, 0, len(tools))
			for name := range tools {
				names = append(names, name)
			}
			sort.Strings(names)

			profiles := toolreg.DefaultProfiles()
			for _, name := range names {
				tool := tools[name]
				p := toolreg.ProfileOf(profiles, name)
				fmt.Printf("%s %s accuracy=%.2f latency=%s\n",
					cyan(bold(name)), gray(string(tool.Type())), p.Accuracy, p.BaseLatency)
			}
			return nil
		},
	}
}
