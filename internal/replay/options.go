package replay

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/lockstep/internal/metrics"
	"github.com/bft-labs/lockstep/pkg/log"
)

const (
	// StepSettle is how long a subprocess is given to react to an input
	// before its outputs are polled.
	StepSettle = 100 * time.Millisecond

	// PollWindow is how long outputs are collected after the settle.
	PollWindow = 100 * time.Millisecond
)

// ProgressFunc is called after each input with the number of inputs
// processed and the total.
type ProgressFunc func(done, total int)

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	logger     log.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	clock      clock.Clock
	stepSettle time.Duration
	pollWindow time.Duration
	progress   ProgressFunc
}

func defaultOptions() options {
	return options{
		logger:     log.NoopLogger{},
		tracer:     otel.Tracer("github.com/bft-labs/lockstep/internal/replay"),
		clock:      clock.New(),
		stepSettle: StepSettle,
		pollWindow: PollWindow,
	}
}

// WithLogger sets the logger.
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

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock sets the clock used for settle delays and durations.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithStepSettle overrides StepSettle.
func WithStepSettle(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.stepSettle = d
		}
	}
}

// WithPollWindow overrides PollWindow.
func WithPollWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollWindow = d
		}
	}
}

// WithProgress sets a callback invoked after every input.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}
