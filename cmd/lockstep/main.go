package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/lockstep/internal/cliconfig"
	"github.com/bft-labs/lockstep/internal/metrics"
	"github.com/bft-labs/lockstep/pkg/lockstep"
	"github.com/bft-labs/lockstep/pkg/log"
)

const longHelp = `Replay recorded pub/sub logs into a service in strict lockstep and verify
its outputs.

Every input is delivered only after the service finished reacting to the
previous one, so identical logs produce identical outputs. Outputs can be
written as references and compared on later runs.`

var exampleUsage = strings.TrimSpace(`
  lockstep run --service radard --log rlog.ndjson --out radard.ndjson
  lockstep run --service radard --log rlog.ndjson --ref radard.ndjson --repeat 3
  lockstep run --all --log-dir logs/ --out refs/ --parallel 4
  lockstep compare --service radard ref.ndjson new.ndjson
  lockstep services
`)

// errDiffs signals a comparison mismatch; the details are already printed.
var errDiffs = errors.New("outputs differ")

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// app carries the resolved configuration shared by all subcommands.
type app struct {
	cfg     cliconfig.Config
	cfgPath string

	zl      zerolog.Logger
	logger  log.Logger
	metrics *metrics.Metrics
}

func main() {
	a := &app{cfg: cliconfig.DefaultConfig(), zl: cliconfig.Logger()}

	root := &cobra.Command{
		Use:               "lockstep",
		Short:             "Deterministic lockstep replay and verification for pub/sub services",
		Long:              longHelp,
		Example:           exampleUsage,
		Version:           fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgPath, "config", "", "path to config file (default: $HOME/.lockstep/config.toml)")
	f.StringVar(&a.cfg.RegistryFile, "registry", a.cfg.RegistryFile, "TOML file with extra service definitions")
	f.StringVar(&a.cfg.BaseDir, "base-dir", a.cfg.BaseDir, "base directory for relative subprocess working directories")
	f.DurationVar(&a.cfg.GateTimeout, "gate-timeout", a.cfg.GateTimeout, "hang timeout for every harness/service handshake")
	f.DurationVar(&a.cfg.ShutdownTimeout, "shutdown-timeout", a.cfg.ShutdownTimeout, "how long a service may take to stop")
	f.DurationVar(&a.cfg.SettleDelay, "settle-delay", a.cfg.SettleDelay, "subprocess startup delay when no readiness handshake arrives")
	f.DurationVar(&a.cfg.StepSettle, "step-settle", a.cfg.StepSettle, "time a subprocess is given to react to an input")
	f.DurationVar(&a.cfg.PollWindow, "poll-window", a.cfg.PollWindow, "time subprocess outputs are collected per input")
	f.StringVar(&a.cfg.MetricsAddr, "metrics-addr", a.cfg.MetricsAddr, "serve Prometheus metrics on this address")
	f.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&a.cfg.Format, "format", a.cfg.Format, "report format (text or json)")

	root.AddCommand(
		a.runCmd(),
		a.compareCmd(),
		a.servicesCmd(),
		a.watchCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()

	if err != nil {
		if !errors.Is(err, errDiffs) {
			a.zl.Error().Err(err).Msg("lockstep")
		}
		os.Exit(1)
	}
}

// setup resolves configuration with precedence flags > env > file > defaults.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfgFile := a.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&a.cfg, fc, changed); err != nil {
			return err
		}
	}

	// Environment overrides the file but not explicitly set flags
	if err := cliconfig.ApplyEnvConfig(&a.cfg, changed); err != nil {
		return err
	}

	if err := a.cfg.Validate(); err != nil {
		return err
	}

	a.zl = cliconfig.NewLogger(os.Stderr, a.cfg.LogLevel)
	a.logger = log.NewZerologAdapterWithLogger(a.zl)
	a.metrics = metrics.New()

	a.zl.Debug().Interface("config", a.cfg).Msg("configuration")
	return nil
}

func (a *app) harness(opts ...lockstep.Option) (*lockstep.Harness, error) {
	base := []lockstep.Option{
		lockstep.WithLogger(a.logger),
		lockstep.WithMetrics(a.metrics),
		lockstep.WithGateTimeout(a.cfg.GateTimeout),
		lockstep.WithShutdownTimeout(a.cfg.ShutdownTimeout),
		lockstep.WithSettleDelay(a.cfg.SettleDelay),
		lockstep.WithStepSettle(a.cfg.StepSettle),
		lockstep.WithPollWindow(a.cfg.PollWindow),
		lockstep.WithBaseDir(a.cfg.BaseDir),
	}
	if a.cfg.RegistryFile != "" {
		base = append(base, lockstep.WithRegistryFile(a.cfg.RegistryFile))
	}
	return lockstep.New(append(base, opts...)...)
}

// serveMetrics starts the metrics endpoint when configured and returns a
// function shutting it down.
func (a *app) serveMetrics() func() {
	if a.cfg.MetricsAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.zl.Warn().Err(err).Str("addr", a.cfg.MetricsAddr).Msg("metrics server stopped")
		}
	}()
	a.zl.Info().Str("addr", a.cfg.MetricsAddr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
