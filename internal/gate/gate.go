// Package gate provides the fatal-timeout wait primitive every lockstep
// rendezvous is built on.
//
// A Gate is a binary signal. Waiting on it is role aware: when the replay
// driver times out the run is aborted with an error; when the service side
// times out its goroutine exits quietly, because the run it was serving is
// already over.
package gate

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/lockstep/internal/domain"
)

// DefaultTimeout is the wait limit applied to every gate unless overridden.
const DefaultTimeout = 15 * time.Second

// Role identifies which side of a rendezvous is waiting.
type Role int

const (
	// RoleDriver is the replay driver's control goroutine.
	RoleDriver Role = iota

	// RoleService is a goroutine belonging to the service under test.
	RoleService
)

// String returns a human-readable representation of the role.
func (r Role) String() string {
	switch r {
	case RoleDriver:
		return "driver"
	case RoleService:
		return "service"
	default:
		return "unknown"
	}
}

// TimeoutError reports a driver-side wait that exceeded the gate timeout.
type TimeoutError struct {
	Gate    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gate %q: no signal after %s: %v", e.Gate, e.Timeout, domain.ErrHangTimeout)
}

// Unwrap returns domain.ErrHangTimeout.
func (e *TimeoutError) Unwrap() error {
	return domain.ErrHangTimeout
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithClock sets the clock used for timeouts.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// Gate is a binary signal with role-aware timed waits.
// The zero value is not usable; create gates with New.
type Gate struct {
	name    string
	timeout time.Duration
	clock   clock.Clock

	mu  sync.Mutex
	set bool
	// ch is closed while the gate is set
	ch chan struct{}
}

// New creates a cleared gate.
func New(name string, opts ...Option) *Gate {
	g := &Gate{
		name:    name,
		timeout: DefaultTimeout,
		clock:   clock.New(),
		ch:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the gate name used in errors.
func (g *Gate) Name() string { return g.name }

// Timeout returns the wait limit.
func (g *Gate) Timeout() time.Duration { return g.timeout }

// Signal sets the gate, releasing current and future waiters. Idempotent.
func (g *Gate) Signal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		g.set = true
		close(g.ch)
	}
}

// Clear resets the gate. Idempotent.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		g.set = false
		g.ch = make(chan struct{})
	}
}

// IsSet reports whether the gate is currently signaled.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

// Wait blocks until the gate is signaled, the timeout elapses or ctx is done.
// It leaves the signal in place.
//
// For RoleDriver a timeout returns a *TimeoutError and a done context returns
// ctx.Err(). For RoleService both terminate the calling goroutine with
// runtime.Goexit; deferred calls still run and Wait never returns.
func (g *Gate) Wait(ctx context.Context, role Role) error {
	return g.wait(ctx, role, false)
}

// WaitAndClear is Wait followed by an atomic Clear of the signal it observed.
// When several goroutines race for the same signal only one of them consumes
// it; the others keep waiting.
func (g *Gate) WaitAndClear(ctx context.Context, role Role) error {
	return g.wait(ctx, role, true)
}

func (g *Gate) wait(ctx context.Context, role Role, consume bool) error {
	timer := g.clock.Timer(g.timeout)
	defer timer.Stop()

	for {
		g.mu.Lock()
		if g.set {
			if consume {
				g.set = false
				g.ch = make(chan struct{})
			}
			g.mu.Unlock()
			return nil
		}
		ch := g.ch
		g.mu.Unlock()

		select {
		case <-ch:
			// re-check under the lock; another waiter may have consumed it
		case <-timer.C:
			return g.expire(role, &TimeoutError{Gate: g.name, Timeout: g.timeout})
		case <-ctx.Done():
			return g.expire(role, ctx.Err())
		}
	}
}

func (g *Gate) expire(role Role, err error) error {
	if role == RoleService {
		runtime.Goexit()
	}
	return err
}
