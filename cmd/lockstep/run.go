package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bft-labs/lockstep/internal/adapters/fs"
	"github.com/bft-labs/lockstep/internal/cliconfig"
	"github.com/bft-labs/lockstep/internal/compare"
	"github.com/bft-labs/lockstep/pkg/lockstep"
)

const logExt = ".ndjson"

func (a *app) runCmd() *cobra.Command {
	var (
		all    bool
		logDir string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a log into a service and optionally verify the outputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.serveMetrics()()

			if all {
				return a.runAll(cmd.Context(), logDir)
			}
			if a.cfg.Service == "" || a.cfg.Log == "" {
				return fmt.Errorf("--service and --log are required (or --all)")
			}
			return a.runOne(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVar(&a.cfg.Service, "service", a.cfg.Service, "service to replay")
	f.StringVar(&a.cfg.Log, "log", a.cfg.Log, "NDJSON log to replay")
	f.StringVar(&a.cfg.Out, "out", a.cfg.Out, "write captured outputs here (a directory with --all)")
	f.StringVar(&a.cfg.Ref, "ref", a.cfg.Ref, "compare outputs against this reference recording")
	f.IntVar(&a.cfg.Repeat, "repeat", a.cfg.Repeat, "replay N times and require identical outputs")
	f.BoolVar(&all, "all", false, "replay every service that has <service>.ndjson in --log-dir")
	f.StringVar(&logDir, "log-dir", ".", "directory of per-service logs for --all")
	f.IntVar(&a.cfg.Parallel, "parallel", a.cfg.Parallel, "maximum concurrent replays for --all")

	return cmd
}

func (a *app) runOne(ctx context.Context) error {
	h, err := a.harness()
	if err != nil {
		return err
	}

	msgs, err := fs.NewLogFile(a.cfg.Log).Messages(ctx)
	if err != nil {
		return err
	}

	outs, err := h.ReplayMessages(ctx, a.cfg.Service, msgs)
	if err != nil {
		return err
	}

	if a.cfg.Out != "" {
		if err := fs.NewOutputFile(a.cfg.Out).Write(ctx, outs); err != nil {
			return fmt.Errorf("write outputs: %w", err)
		}
		a.zl.Info().Str("path", a.cfg.Out).Int("outputs", len(outs)).Msg("outputs written")
	}

	var results []compare.Result

	if a.cfg.Repeat > 1 {
		res, err := h.CheckDeterminism(ctx, a.cfg.Service, msgs, a.cfg.Repeat)
		if err != nil {
			return err
		}
		res.Service = a.cfg.Service + " (determinism)"
		results = append(results, res)
	}

	if a.cfg.Ref != "" {
		ref, err := fs.ReadOutputs(ctx, a.cfg.Ref)
		if err != nil {
			return fmt.Errorf("read reference: %w", err)
		}
		svc, err := h.Registry().Lookup(a.cfg.Service)
		if err != nil {
			return err
		}
		results = append(results, compare.Outputs(a.cfg.Service, ref, outs, compare.OptionsFor(svc)))
	}

	if len(results) == 0 {
		fmt.Fprintf(os.Stdout, "%s: %d outputs\n", a.cfg.Service, len(outs))
		return nil
	}
	return a.report(results)
}

func (a *app) runAll(ctx context.Context, logDir string) error {
	h, err := a.harness()
	if err != nil {
		return err
	}

	logs := make(map[string]lockstep.LogSource)
	for _, name := range h.Registry().Names() {
		path := filepath.Join(logDir, name+logExt)
		if cliconfig.FileExists(path) {
			logs[name] = fs.NewLogFile(path)
		}
	}
	if len(logs) == 0 {
		return fmt.Errorf("no <service>%s logs found in %s", logExt, logDir)
	}

	results, err := h.RunAll(ctx, logs, a.cfg.Parallel)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if a.cfg.Out != "" {
			path := filepath.Join(a.cfg.Out, name+logExt)
			if err := fs.NewOutputFile(path).Write(ctx, results[name]); err != nil {
				return fmt.Errorf("write %s outputs: %w", name, err)
			}
		}
		fmt.Fprintf(os.Stdout, "%s: %d outputs\n", name, len(results[name]))
	}
	return nil
}

func (a *app) report(results []compare.Result) error {
	var err error
	if a.cfg.Format == cliconfig.FormatJSON {
		err = compare.WriteJSON(os.Stdout, results)
	} else {
		err = compare.WriteText(os.Stdout, results)
	}
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.Failed() {
			return errDiffs
		}
	}
	return nil
}
