package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bft-labs/lockstep/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run a replay whenever the log, reference or registry file changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Service == "" || a.cfg.Log == "" {
				return fmt.Errorf("--service and --log are required")
			}
			defer a.serveMetrics()()

			files := []string{a.cfg.Log}
			if a.cfg.Ref != "" {
				files = append(files, a.cfg.Ref)
			}
			if a.cfg.RegistryFile != "" {
				files = append(files, a.cfg.RegistryFile)
			}

			w, err := watch.New(watch.Config{Files: files, Logger: a.logger})
			if err != nil {
				return err
			}

			a.replayOnce(cmd.Context())
			a.zl.Info().Strs("files", files).Msg("watching for changes")

			return w.Run(cmd.Context(), func(ctx context.Context, changed []string) {
				a.zl.Info().Strs("changed", changed).Msg("re-running replay")
				a.replayOnce(ctx)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&a.cfg.Service, "service", a.cfg.Service, "service to replay")
	f.StringVar(&a.cfg.Log, "log", a.cfg.Log, "NDJSON log to replay")
	f.StringVar(&a.cfg.Ref, "ref", a.cfg.Ref, "compare outputs against this reference recording")
	return cmd
}

// replayOnce runs a single replay and logs the outcome; watch keeps going
// after failures.
func (a *app) replayOnce(ctx context.Context) {
	err := a.runOne(ctx)
	switch {
	case err == nil:
		a.zl.Info().Str("service", a.cfg.Service).Msg("replay passed")
	case errors.Is(err, errDiffs):
		a.zl.Warn().Str("service", a.cfg.Service).Msg("replay outputs differ")
	case ctx.Err() != nil:
	default:
		a.zl.Error().Err(err).Str("service", a.cfg.Service).Msg("replay failed")
	}
}
