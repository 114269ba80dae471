package supervisor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/pkg/log"
)

const (
	// ShutdownTimeout bounds how long Stop waits for the service to exit.
	ShutdownTimeout = 10 * time.Second

	// StartupSettle bounds how long a subprocess may take to announce
	// readiness before it is assumed to be up.
	StartupSettle = 5 * time.Second
)

// Supervisor is the uniform lifecycle surface the scheduler drives.
//
// Start launches the service. RunInitializer performs any one-time startup
// step against the full sorted log. Stop terminates the service; callers
// invoke it exactly once after a successful Start, whatever the outcome of
// the replay.
type Supervisor interface {
	Start(ctx context.Context) error
	RunInitializer(ctx context.Context, msgs []domain.Message) error
	Stop() error
	State() State
}

// Option configures a supervisor.
type Option func(*options)

type options struct {
	logger          log.Logger
	clock           clock.Clock
	shutdownTimeout time.Duration
	settle          time.Duration
	baseDir         string
}

func defaultOptions() options {
	return options{
		logger:          log.NoopLogger{},
		clock:           clock.New(),
		shutdownTimeout: ShutdownTimeout,
		settle:          StartupSettle,
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = log.OrNoop(logger)
	}
}

// WithClock sets the clock used for timeouts and settle delays.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithShutdownTimeout overrides ShutdownTimeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithSettleDelay overrides StartupSettle.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.settle = d
		}
	}
}

// WithBaseDir sets the directory relative service directories resolve from.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		o.baseDir = dir
	}
}
