package mirror

import (
	"context"
	"sync"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/gate"
	"github.com/bft-labs/lockstep/internal/ports"
)

// SubMirror stands in for the service's multi-topic subscription.
// Every Update the service makes is held until the driver supplies the next
// batch of messages through UpdateWith.
type SubMirror struct {
	requested *gate.Gate
	ready     *gate.Gate

	mu         sync.RWMutex
	serviceCtx context.Context
	data       map[string]domain.Message
	updated    map[string]bool
	frame      int
	monoTime   int64
	pinned     string
}

// NewSubMirror creates a mirror for the given subscribed topics.
func NewSubMirror(topics []string, opts ...gate.Option) *SubMirror {
	m := &SubMirror{
		requested:  gate.New("update_called", opts...),
		ready:      gate.New("update_ready", opts...),
		serviceCtx: context.Background(),
		data:       make(map[string]domain.Message, len(topics)),
		updated:    make(map[string]bool, len(topics)),
	}
	for _, t := range topics {
		m.updated[t] = false
	}
	return m
}

// SetServiceContext sets the context that bounds service-side waits issued
// from Get, which has no context parameter of its own.
func (m *SubMirror) SetServiceContext(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serviceCtx = ctx
}

// Update announces that the service wants fresh state and blocks until the
// driver provides it. Service side.
func (m *SubMirror) Update(ctx context.Context) error {
	m.requested.Signal()
	return m.ready.WaitAndClear(ctx, gate.RoleService)
}

// Get returns the latest message on topic. Service side.
// While topic is pinned the read itself goes through the update handshake.
func (m *SubMirror) Get(topic string) (domain.Message, bool) {
	m.mu.RLock()
	pinned := m.pinned != "" && m.pinned == topic
	ctx := m.serviceCtx
	m.mu.RUnlock()

	if pinned {
		m.requested.Signal()
		_ = m.ready.WaitAndClear(ctx, gate.RoleService)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.data[topic]
	return msg, ok
}

// Updated reports whether topic changed in the last update.
func (m *SubMirror) Updated(topic string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updated[topic]
}

// Frame returns the number of completed updates.
func (m *SubMirror) Frame() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frame
}

// MonoTime returns the log time of the last update.
func (m *SubMirror) MonoTime() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monoTime
}

// UpdateWith waits for the service to request an update, installs msgs as the
// new state and releases the service. Driver side.
func (m *SubMirror) UpdateWith(ctx context.Context, monoTime int64, msgs []domain.Message) error {
	if err := m.requested.WaitAndClear(ctx, gate.RoleDriver); err != nil {
		return err
	}

	m.mu.Lock()
	for t := range m.updated {
		m.updated[t] = false
	}
	for _, msg := range msgs {
		m.data[msg.Topic] = msg
		m.updated[msg.Topic] = true
	}
	m.frame++
	m.monoTime = monoTime
	m.mu.Unlock()

	m.ready.Signal()
	return nil
}

// WaitForUpdate blocks until the service has requested an update, without
// answering it. Driver side.
func (m *SubMirror) WaitForUpdate(ctx context.Context) error {
	return m.requested.Wait(ctx, gate.RoleDriver)
}

// Pin routes reads of topic through the update handshake.
func (m *SubMirror) Pin(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = topic
}

// Unpin stops routing reads through the handshake.
func (m *SubMirror) Unpin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = ""
}

// WaitForPinnedRead blocks until the service reads the pinned topic and
// consumes that request. The service stays blocked until Release. Driver side.
func (m *SubMirror) WaitForPinnedRead(ctx context.Context) error {
	return m.requested.WaitAndClear(ctx, gate.RoleDriver)
}

// Release lets a service blocked in a pinned read continue. Driver side.
func (m *SubMirror) Release() {
	m.ready.Signal()
}

var _ ports.StateProvider = (*SubMirror)(nil)
