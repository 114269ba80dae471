package lockstep

import (
	"time"

	"github.com/bft-labs/lockstep/internal/gate"
	"github.com/bft-labs/lockstep/internal/metrics"
	"github.com/bft-labs/lockstep/internal/ports"
	"github.com/bft-labs/lockstep/internal/registry"
	"github.com/bft-labs/lockstep/internal/replay"
	"github.com/bft-labs/lockstep/internal/supervisor"
	"github.com/bft-labs/lockstep/pkg/log"
)

// Option configures optional behavior of a Harness.
type Option func(*options)

type options struct {
	registry     *registry.Registry
	registryFile string
	entries      map[string]ports.Entry
	launcher     ports.Launcher
	logger       log.Logger
	metrics      *metrics.Metrics
	progress     replay.ProgressFunc

	gateTimeout     time.Duration
	shutdownTimeout time.Duration
	settleDelay     time.Duration
	stepSettle      time.Duration
	pollWindow      time.Duration
	baseDir         string
}

func defaultOptions() options {
	return options{
		entries:         make(map[string]ports.Entry),
		logger:          log.NoopLogger{},
		gateTimeout:     gate.DefaultTimeout,
		shutdownTimeout: supervisor.ShutdownTimeout,
		settleDelay:     supervisor.StartupSettle,
		stepSettle:      replay.StepSettle,
		pollWindow:      replay.PollWindow,
	}
}

// WithRegistry replaces the builtin service registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithRegistryFile merges the services and topics of a TOML file into the
// registry.
func WithRegistryFile(path string) Option {
	return func(o *options) {
		o.registryFile = path
	}
}

// WithEntry registers the entry point of an in-process service.
func WithEntry(service string, entry Entry) Option {
	return func(o *options) {
		o.entries[service] = entry
	}
}

// WithLauncher sets the launcher used for subprocess services.
// If not provided, services are started with os/exec.
func WithLauncher(l ports.Launcher) Option {
	return func(o *options) {
		o.launcher = l
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = log.OrNoop(logger)
	}
}

// WithMetrics records replay metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithProgress sets a callback invoked after every replayed input.
func WithProgress(fn replay.ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithGateTimeout bounds every handshake wait between harness and service.
func WithGateTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.gateTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long a service may take to stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithSettleDelay bounds how long a subprocess may take to announce readiness.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.settleDelay = d
		}
	}
}

// WithStepSettle sets how long a subprocess is given to react to an input.
func WithStepSettle(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.stepSettle = d
		}
	}
}

// WithPollWindow sets how long subprocess outputs are collected per input.
func WithPollWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollWindow = d
		}
	}
}

// WithBaseDir resolves relative subprocess working directories against dir.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		o.baseDir = dir
	}
}
