package lockstep

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/lockstep/internal/adapters/fs"
	"github.com/bft-labs/lockstep/internal/adapters/process"
	"github.com/bft-labs/lockstep/internal/adapters/wsbus"
	"github.com/bft-labs/lockstep/internal/compare"
	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/gate"
	"github.com/bft-labs/lockstep/internal/metrics"
	"github.com/bft-labs/lockstep/internal/mirror"
	"github.com/bft-labs/lockstep/internal/ports"
	"github.com/bft-labs/lockstep/internal/registry"
	"github.com/bft-labs/lockstep/internal/replay"
	"github.com/bft-labs/lockstep/internal/supervisor"
	"github.com/bft-labs/lockstep/pkg/log"
)

// Re-exported types so embedders never import internal packages.
type (
	Message       = domain.Message
	Output        = domain.Output
	BusFrame      = domain.BusFrame
	Handles       = ports.Handles
	Entry         = ports.Entry
	LogSource     = ports.LogSource
	ServiceConfig = registry.ServiceConfig
	Registry      = registry.Registry
	Result        = compare.Result
	Diff          = compare.Diff
)

// NewLogFile returns a LogSource reading an NDJSON recording.
func NewLogFile(path string) LogSource {
	return fs.NewLogFile(path)
}

// Harness replays recorded logs into services under test.
type Harness struct {
	reg  *registry.Registry
	opts options
}

// New creates a harness. Configuration errors are reported here, before any
// service is started.
func New(opts ...Option) (*Harness, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.launcher == nil {
		o.launcher = process.NewLauncher(o.logger)
	}

	reg := o.registry
	if reg == nil {
		reg = registry.Builtin()
	}
	if o.registryFile != "" {
		f, err := registry.LoadFile(o.registryFile)
		if err != nil {
			return nil, fmt.Errorf("load registry %s: %w", o.registryFile, err)
		}
		if reg, err = reg.Apply(f); err != nil {
			return nil, err
		}
	}

	for name := range o.entries {
		svc, err := reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		if svc.Transport != registry.InProcess {
			return nil, fmt.Errorf("%w: entry point for %s service %q", domain.ErrConfigMismatch, svc.Transport, name)
		}
	}

	return &Harness{reg: reg, opts: o}, nil
}

// Registry returns the service registry in use.
func (h *Harness) Registry() *Registry {
	return h.reg
}

// Metrics returns the harness metrics.
func (h *Harness) Metrics() *metrics.Metrics {
	return h.opts.metrics
}

// Replay reads src and replays it into service.
func (h *Harness) Replay(ctx context.Context, service string, src LogSource) ([]Output, error) {
	msgs, err := src.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return h.ReplayMessages(ctx, service, msgs)
}

// ReplayMessages replays msgs into service and returns the captured outputs.
// On failure the outputs captured before the failure are returned with the
// error.
func (h *Harness) ReplayMessages(ctx context.Context, service string, msgs []Message) ([]Output, error) {
	svc, err := h.reg.Lookup(service)
	if err != nil {
		return nil, err
	}
	pred, err := h.reg.Predicate(service)
	if err != nil {
		return nil, err
	}

	logger := h.opts.logger.With(log.Service(service))
	sup, cleanup, err := h.supervisor(svc, logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	schedOpts := []replay.Option{
		replay.WithLogger(logger),
		replay.WithMetrics(h.opts.metrics),
		replay.WithStepSettle(h.opts.stepSettle),
		replay.WithPollWindow(h.opts.pollWindow),
	}
	if h.opts.progress != nil {
		schedOpts = append(schedOpts, replay.WithProgress(h.opts.progress))
	}

	sess := replay.NewSession(svc, msgs)
	err = replay.New(svc, pred, schedOpts...).Run(ctx, sess, sup)
	return sess.Outputs(), err
}

func (h *Harness) supervisor(svc registry.ServiceConfig, logger log.Logger) (supervisor.Supervisor, func(), error) {
	supOpts := []supervisor.Option{
		supervisor.WithLogger(logger),
		supervisor.WithShutdownTimeout(h.opts.shutdownTimeout),
		supervisor.WithSettleDelay(h.opts.settleDelay),
		supervisor.WithBaseDir(h.opts.baseDir),
	}

	if svc.Transport == registry.Subprocess {
		bus, err := wsbus.NewServer(wsbus.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return supervisor.NewSubprocess(svc, h.opts.launcher, bus, supOpts...), func() { bus.Close() }, nil
	}

	set := mirror.NewSet(svc.SubscribedTopics(), svc.OutputTopics(), svc.BusTopic, gate.WithTimeout(h.opts.gateTimeout))
	return supervisor.NewInProcess(svc, h.opts.entries[svc.Name], set, supOpts...), func() {}, nil
}

// Verify replays msgs and compares the outputs with ref using the service's
// ignore list and tolerance.
func (h *Harness) Verify(ctx context.Context, service string, msgs []Message, ref []Output) (Result, error) {
	svc, err := h.reg.Lookup(service)
	if err != nil {
		return Result{}, err
	}
	outs, err := h.ReplayMessages(ctx, service, msgs)
	if err != nil {
		return Result{}, err
	}
	return compare.Outputs(service, ref, outs, compare.OptionsFor(svc)), nil
}

// CheckDeterminism replays msgs runs times and compares every run with the
// first. It returns the first failing comparison, or the last one.
func (h *Harness) CheckDeterminism(ctx context.Context, service string, msgs []Message, runs int) (Result, error) {
	if runs < 2 {
		return Result{}, fmt.Errorf("determinism check needs at least 2 runs, got %d", runs)
	}

	ref, err := h.ReplayMessages(ctx, service, msgs)
	if err != nil {
		return Result{}, fmt.Errorf("run 1: %w", err)
	}

	var res Result
	for i := 2; i <= runs; i++ {
		res, err = h.Verify(ctx, service, msgs, ref)
		if err != nil {
			return Result{}, fmt.Errorf("run %d: %w", i, err)
		}
		if res.Failed() {
			return res, nil
		}
	}
	return res, nil
}

// RunAll replays every service in logs concurrently, at most parallel at a
// time. The first failure cancels the remaining replays.
func (h *Harness) RunAll(ctx context.Context, logs map[string]LogSource, parallel int) (map[string][]Output, error) {
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}

	var mu sync.Mutex
	results := make(map[string][]Output, len(logs))

	for service, src := range logs {
		service, src := service, src
		g.Go(func() error {
			outs, err := h.Replay(ctx, service, src)
			if err != nil {
				return fmt.Errorf("%s: %w", service, err)
			}
			mu.Lock()
			results[service] = outs
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
