package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/pkg/log"
)

// State is the lifecycle state of a supervised service.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateInitializing
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateInitializing:
		return "Initializing"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// transitions lists the valid next states of every state.
var transitions = map[State][]State{
	StateStopped:      {StateStarting},
	StateStarting:     {StateInitializing, StateRunning, StateStopping, StateCrashed},
	StateInitializing: {StateRunning, StateStopping, StateCrashed},
	StateRunning:      {StateStopping, StateCrashed},
	StateStopping:     {StateStopped, StateCrashed},
	StateCrashed:      {StateStarting, StateStopping},
}

// lifecycle is the state machine shared by both supervisors.
type lifecycle struct {
	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup
	clock  clock.Clock
	logger log.Logger
}

func newLifecycle(logger log.Logger, clk clock.Clock) *lifecycle {
	return &lifecycle{
		state:  StateStopped,
		clock:  clk,
		logger: logger,
	}
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to next if the transition is valid.
func (l *lifecycle) TransitionTo(next State, reason string) error {
	l.mu.Lock()
	prev := l.state
	if !validTransition(prev, next) {
		l.mu.Unlock()
		if prev == StateStopped || prev == StateCrashed {
			return domain.ErrNotRunning
		}
		return domain.ErrAlreadyRunning
	}
	l.state = next
	l.mu.Unlock()

	l.logger.Info("state transition",
		log.String("from", prev.String()),
		log.String("to", next.String()),
		log.String("reason", reason),
	)
	return nil
}

func validTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanStart reports whether Start may be called.
func (l *lifecycle) CanStart() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStopped || l.state == StateCrashed
}

// CanStop reports whether Stop may be called.
func (l *lifecycle) CanStop() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch l.state {
	case StateStarting, StateInitializing, StateRunning, StateCrashed:
		return true
	}
	return false
}

// SetCancel stores the function that cancels the service context.
func (l *lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel = cancel
}

// Cancel cancels the service context.
func (l *lifecycle) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (l *lifecycle) AddWorker()  { l.wg.Add(1) }
func (l *lifecycle) WorkerDone() { l.wg.Done() }

// WaitWithTimeout waits for all workers to finish.
// Returns domain.ErrShutdownTimeout if the timeout expires.
func (l *lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	timer := l.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		l.logger.Warn("shutdown timeout, abandoning service",
			log.Duration("timeout", timeout),
		)
		return domain.ErrShutdownTimeout
	}
}
