package mirror

import (
	"context"
	"sync"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/gate"
	"github.com/bft-labs/lockstep/internal/ports"
)

// Socket is the synchronous channel standing in for one direction of one
// topic (typically the raw bus input of a service).
//
// In strict mode it is a single-slot rendezvous: a second Send blocks until
// the receiver has taken the first item. In non-strict mode Send buffers
// without waiting and Receive pops without waiting, which is used for bulk
// preloads.
type Socket struct {
	topic string

	requested *gate.Gate
	produced  *gate.Gate
	consumed  *gate.Gate

	mu     sync.Mutex
	queue  []domain.Message
	strict bool
}

// NewSocket creates a strict socket for topic.
func NewSocket(topic string, opts ...gate.Option) *Socket {
	s := &Socket{
		topic:     topic,
		requested: gate.New(topic+".recv_called", opts...),
		produced:  gate.New(topic+".produced", opts...),
		consumed:  gate.New(topic+".consumed", opts...),
		strict:    true,
	}
	// the slot starts empty
	s.consumed.Signal()
	return s
}

// Topic returns the topic this socket carries.
func (s *Socket) Topic() string { return s.topic }

// Strict reports whether lockstep delivery is enabled.
func (s *Socket) Strict() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strict
}

// SetStrict toggles lockstep delivery.
func (s *Socket) SetStrict(strict bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strict = strict
}

// Send buffers msg for the receiver. Driver side.
// In strict mode it first waits for the previous item to be consumed.
func (s *Socket) Send(ctx context.Context, msg domain.Message) error {
	if s.Strict() {
		if err := s.consumed.WaitAndClear(ctx, gate.RoleDriver); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	s.produced.Signal()
	return nil
}

// Receive returns the next buffered message. Service side.
//
// With nonBlocking set it returns immediately with false. In strict mode it
// announces the request, waits for an item and acknowledges it. In
// non-strict mode it pops the next preloaded item, reporting false when the
// buffer is empty.
func (s *Socket) Receive(ctx context.Context, nonBlocking bool) (domain.Message, bool) {
	if nonBlocking {
		return domain.Message{}, false
	}

	if !s.Strict() {
		return s.pop()
	}

	s.requested.Signal()
	_ = s.produced.WaitAndClear(ctx, gate.RoleService)
	s.requested.Clear()

	msg, ok := s.pop()
	s.consumed.Signal()
	return msg, ok
}

// WaitForReceive blocks until the service is waiting in Receive. Driver side.
func (s *Socket) WaitForReceive(ctx context.Context) error {
	return s.requested.Wait(ctx, gate.RoleDriver)
}

// Preload waits for the service to ask for data, then hands it a whole burst
// at once and switches to non-strict mode so the rest of the burst is
// consumed without further handshakes. Driver side.
func (s *Socket) Preload(ctx context.Context, msgs []domain.Message) error {
	if err := s.requested.WaitAndClear(ctx, gate.RoleDriver); err != nil {
		return err
	}

	s.mu.Lock()
	s.queue = append(s.queue[:0], msgs...)
	s.strict = false
	s.mu.Unlock()

	s.consumed.Clear()
	s.produced.Signal()
	return nil
}

// Reset drops anything still buffered and marks the slot empty.
func (s *Socket) Reset() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()

	s.produced.Clear()
	s.consumed.Signal()
}

// Pending returns the number of buffered messages.
func (s *Socket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Socket) pop() (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return domain.Message{}, false
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, true
}

var _ ports.Socket = (*Socket)(nil)
