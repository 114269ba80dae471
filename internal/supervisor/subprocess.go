package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/ports"
	"github.com/bft-labs/lockstep/internal/registry"
	"github.com/bft-labs/lockstep/pkg/log"
)

// Environment variables exported to supervised subprocesses.
const (
	EnvBusURL  = "LOCKSTEP_BUS_URL"
	EnvService = "LOCKSTEP_SERVICE"
)

// ErrExitedEarly is returned when a subprocess exits before it is stopped.
var ErrExitedEarly = errors.New("service exited during startup")

// Subprocess supervises a service running as an OS process.
type Subprocess struct {
	svc      registry.ServiceConfig
	launcher ports.Launcher
	bus      ports.BusTransport
	opts     options
	lc       *lifecycle

	mu     sync.Mutex
	proc   ports.Process
	exited chan struct{}
	exit   error
}

// NewSubprocess creates a supervisor launching svc.Command through launcher.
// The process reaches the harness over bus.
func NewSubprocess(svc registry.ServiceConfig, launcher ports.Launcher, bus ports.BusTransport, opts ...Option) *Subprocess {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(log.Service(svc.Name))
	return &Subprocess{
		svc:      svc,
		launcher: launcher,
		bus:      bus,
		opts:     o,
		lc:       newLifecycle(o.logger, o.clock),
	}
}

// Bus returns the transport the process talks to.
func (p *Subprocess) Bus() ports.BusTransport {
	return p.bus
}

// State returns the lifecycle state.
func (p *Subprocess) State() State {
	return p.lc.State()
}

// Dir returns the working directory the process is started in.
func (p *Subprocess) Dir() string {
	if p.svc.Dir == "" || filepath.IsAbs(p.svc.Dir) || p.opts.baseDir == "" {
		return p.svc.Dir
	}
	return filepath.Join(p.opts.baseDir, p.svc.Dir)
}

// Start launches the process and waits until it is ready.
//
// Readiness is the hello frame on the bus. A process that never sends one is
// assumed ready once the settle delay has passed. A process that exits or a
// ctx that ends before then fails Start; the process is terminated before
// Start returns.
func (p *Subprocess) Start(ctx context.Context) error {
	if !p.lc.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := p.lc.TransitionTo(StateStarting, "start requested"); err != nil {
		return err
	}

	env := []string{
		EnvBusURL + "=" + p.bus.URL(),
		EnvService + "=" + p.svc.Name,
	}
	proc, err := p.launcher.Start(ctx, p.Dir(), p.svc.Command, env)
	if err != nil {
		_ = p.lc.TransitionTo(StateCrashed, "launch failed")
		return fmt.Errorf("launch %s: %w", p.svc.Name, err)
	}

	exited := make(chan struct{})
	p.mu.Lock()
	p.proc = proc
	p.exited = exited
	p.mu.Unlock()

	p.lc.AddWorker()
	go func() {
		defer p.lc.WorkerDone()
		err := proc.Wait()
		p.mu.Lock()
		p.exit = err
		p.mu.Unlock()
		close(exited)
	}()

	p.opts.logger.Info("process started",
		log.Int("pid", proc.Pid()),
		log.Strings("command", p.svc.Command),
		log.String("dir", p.Dir()),
	)

	timer := p.opts.clock.Timer(p.opts.settle)
	defer timer.Stop()

	select {
	case <-p.bus.Ready():
		p.opts.logger.Debug("readiness handshake received")
		return nil
	case <-timer.C:
		p.opts.logger.Debug("no readiness handshake, assuming ready",
			log.Duration("settle", p.opts.settle),
		)
		return nil
	case <-exited:
		p.terminate()
		_ = p.lc.TransitionTo(StateCrashed, "exited during startup")
		return fmt.Errorf("%s: %w: %v", p.svc.Name, ErrExitedEarly, p.exitErr())
	case <-ctx.Done():
		p.terminate()
		_ = p.lc.TransitionTo(StateCrashed, "startup canceled")
		return ctx.Err()
	}
}

// RunInitializer is a no-op: subprocess services initialize themselves from
// the bus traffic they receive.
func (p *Subprocess) RunInitializer(_ context.Context, _ []domain.Message) error {
	if p.svc.Initializer != nil {
		return fmt.Errorf("%w: %s: initializers need the in-process transport", domain.ErrConfigMismatch, p.svc.Name)
	}
	return p.lc.TransitionTo(StateRunning, "no initializer")
}

// Stop interrupts the process and waits for it to exit, killing it when it
// outlives the shutdown timeout.
func (p *Subprocess) Stop() error {
	if !p.lc.CanStop() {
		return domain.ErrNotRunning
	}
	if err := p.lc.TransitionTo(StateStopping, "stop requested"); err != nil {
		return err
	}

	if err := p.terminate(); err != nil {
		_ = p.lc.TransitionTo(StateCrashed, "kill failed")
		return err
	}
	return p.lc.TransitionTo(StateStopped, "process exited")
}

// terminate sends an interrupt, then a kill after the shutdown timeout.
func (p *Subprocess) terminate() error {
	p.mu.Lock()
	proc, exited := p.proc, p.exited
	p.mu.Unlock()
	if proc == nil {
		return nil
	}

	select {
	case <-exited:
		return nil
	default:
	}

	if err := proc.Interrupt(); err != nil {
		p.opts.logger.Warn("interrupt failed", log.Err(err))
	}
	if err := p.lc.WaitWithTimeout(p.opts.shutdownTimeout); err == nil {
		return nil
	}

	p.opts.logger.Warn("process ignored interrupt, killing", log.Int("pid", proc.Pid()))
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill %s: %w", p.svc.Name, err)
	}
	return p.lc.WaitWithTimeout(p.opts.shutdownTimeout)
}

func (p *Subprocess) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

var _ Supervisor = (*Subprocess)(nil)
