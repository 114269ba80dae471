package main

import (
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func (a *app) servicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the configured services",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			h, err := a.harness()
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Service", "Transport", "Policy", "Inputs", "Outputs")
			for _, svc := range h.Registry().Services() {
				if err := table.Append(
					svc.Name,
					string(svc.Transport),
					svc.PolicyKind(),
					strings.Join(svc.InputTopics(), ", "),
					strings.Join(svc.OutputTopics(), ", "),
				); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}
