package ports

import (
	"context"

	"github.com/bft-labs/lockstep/internal/domain"
)

// StateProvider is the service-facing subscription interface: the latest
// known message per subscribed topic, refreshed by Update.
type StateProvider interface {
	// Update blocks until new messages are available and makes them current.
	Update(ctx context.Context) error

	// Get returns the latest message on topic.
	Get(topic string) (domain.Message, bool)

	// Updated reports whether topic changed in the last Update.
	Updated(topic string) bool

	// Frame returns the number of completed updates.
	Frame() int
}

// Publisher is the service-facing publication interface.
type Publisher interface {
	// Send publishes msg on topic.
	Send(ctx context.Context, topic string, msg domain.Message) error
}

// Socket is a single-topic raw receive/send endpoint.
type Socket interface {
	// Receive returns the next message. With nonBlocking set it returns
	// immediately, reporting false when nothing is available.
	Receive(ctx context.Context, nonBlocking bool) (domain.Message, bool)

	// Send hands msg to the receiving side.
	Send(ctx context.Context, msg domain.Message) error
}

// Handles bundles the transport handles given to an in-process service.
// Bus is nil when the service does not consume a raw bus topic.
type Handles struct {
	Sub StateProvider
	Pub Publisher
	Bus Socket
}

// Entry is the single entry point of an in-process service.
// It returns when ctx is canceled or the service finishes.
type Entry func(ctx context.Context, h Handles) error
