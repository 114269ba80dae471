package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/mirror"
	"github.com/bft-labs/lockstep/internal/ports"
	"github.com/bft-labs/lockstep/internal/registry"
	"github.com/bft-labs/lockstep/pkg/log"
)

// InProcess supervises a service entry point running on a goroutine.
type InProcess struct {
	svc   registry.ServiceConfig
	entry ports.Entry
	set   *mirror.Set
	opts  options
	lc    *lifecycle

	mu  sync.Mutex
	err error
}

// NewInProcess creates a supervisor running entry against set.
func NewInProcess(svc registry.ServiceConfig, entry ports.Entry, set *mirror.Set, opts ...Option) *InProcess {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(log.Service(svc.Name))
	return &InProcess{
		svc:   svc,
		entry: entry,
		set:   set,
		opts:  o,
		lc:    newLifecycle(o.logger, o.clock),
	}
}

// Mirrors returns the mirrors the service is wired to.
func (p *InProcess) Mirrors() *mirror.Set {
	return p.set
}

// State returns the lifecycle state.
func (p *InProcess) State() State {
	return p.lc.State()
}

// Err returns the error the entry point returned, if it returned one.
func (p *InProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Start runs the entry point on a new goroutine. The service context is
// derived from ctx and canceled by Stop.
func (p *InProcess) Start(ctx context.Context) error {
	if p.entry == nil {
		return fmt.Errorf("%w: %s", domain.ErrNoEntryPoint, p.svc.Name)
	}
	if !p.lc.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := p.lc.TransitionTo(StateStarting, "start requested"); err != nil {
		return err
	}

	svcCtx, cancel := context.WithCancel(ctx)
	p.lc.SetCancel(cancel)
	p.set.Sub.SetServiceContext(svcCtx)

	p.lc.AddWorker()
	go func() {
		defer p.lc.WorkerDone()
		err := p.entry(svcCtx, p.set.Handles())
		if err != nil && !errors.Is(err, context.Canceled) {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			p.opts.logger.Warn("service returned error", log.Err(err))
		}
	}()
	return nil
}

// RunInitializer runs the fingerprint preload when the service has one.
//
// The first Count bus messages of msgs are handed to the bus socket in one
// non-strict burst while reads of the pin topic are routed through the
// update handshake. The service reading that topic marks the end of
// auto-detection; the socket is then emptied and returned to strict mode.
func (p *InProcess) RunInitializer(ctx context.Context, msgs []domain.Message) error {
	f := p.svc.Initializer
	if f == nil {
		return p.lc.TransitionTo(StateRunning, "no initializer")
	}
	if p.set.Bus == nil {
		return fmt.Errorf("%w: %s: fingerprint needs a bus socket", domain.ErrConfigMismatch, p.svc.Name)
	}
	if err := p.lc.TransitionTo(StateInitializing, "fingerprint"); err != nil {
		return err
	}

	burst := make([]domain.Message, 0, f.Limit())
	for _, m := range msgs {
		if len(burst) == f.Limit() {
			break
		}
		if m.Topic == f.BusTopic {
			burst = append(burst, m)
		}
	}

	p.opts.logger.Info("fingerprint started",
		log.Int("frames", len(burst)),
		log.String("pin", f.PinTopic),
	)

	p.set.Sub.Pin(f.PinTopic)
	if err := p.set.Bus.Preload(ctx, burst); err != nil {
		return p.crash(fmt.Errorf("fingerprint preload: %w", err))
	}
	if err := p.set.Sub.WaitForPinnedRead(ctx); err != nil {
		return p.crash(fmt.Errorf("fingerprint completion: %w", err))
	}
	p.set.Sub.Unpin()
	p.set.Bus.Reset()
	p.set.Bus.SetStrict(true)
	p.set.Sub.Release()

	p.opts.logger.Info("fingerprint finished")
	return p.lc.TransitionTo(StateRunning, "initialized")
}

// Stop cancels the service context and waits for the entry point to return.
// A service that does not return within the shutdown timeout is abandoned and
// domain.ErrShutdownTimeout is returned.
func (p *InProcess) Stop() error {
	if !p.lc.CanStop() {
		return domain.ErrNotRunning
	}
	if err := p.lc.TransitionTo(StateStopping, "stop requested"); err != nil {
		return err
	}

	p.lc.Cancel()
	if err := p.lc.WaitWithTimeout(p.opts.shutdownTimeout); err != nil {
		_ = p.lc.TransitionTo(StateCrashed, "shutdown timeout")
		return err
	}
	return p.lc.TransitionTo(StateStopped, "service exited")
}

func (p *InProcess) crash(err error) error {
	_ = p.lc.TransitionTo(StateCrashed, err.Error())
	return err
}

var _ Supervisor = (*InProcess)(nil)
