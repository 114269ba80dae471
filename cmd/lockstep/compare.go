package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bft-labs/lockstep/internal/adapters/fs"
	"github.com/bft-labs/lockstep/internal/compare"
)

func (a *app) compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare REF NEW",
		Short: "Compare two output recordings of a service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Service == "" {
				return fmt.Errorf("--service is required")
			}

			h, err := a.harness()
			if err != nil {
				return err
			}
			svc, err := h.Registry().Lookup(a.cfg.Service)
			if err != nil {
				return err
			}

			ref, err := fs.ReadOutputs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			got, err := fs.ReadOutputs(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			return a.report([]compare.Result{compare.Outputs(svc.Name, ref, got, compare.OptionsFor(svc))})
		},
	}

	cmd.Flags().StringVar(&a.cfg.Service, "service", a.cfg.Service, "service whose ignore list and tolerance apply")
	return cmd
}
