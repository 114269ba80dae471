package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/gate"
	"github.com/bft-labs/lockstep/internal/ports"
)

// PubMirror stands in for the service's publisher. Each Send blocks the
// service until the driver has taken the message with WaitForMessage, so no
// publication can be overwritten before it is observed.
type PubMirror struct {
	sent     *gate.Gate
	consumed *gate.Gate

	mu        sync.Mutex
	declared  map[string]bool
	data      map[string]domain.Message
	last      string
	violation error
}

// NewPubMirror creates a mirror accepting publications on topics.
func NewPubMirror(topics []string, opts ...gate.Option) *PubMirror {
	declared := make(map[string]bool, len(topics))
	for _, t := range topics {
		declared[t] = true
	}
	return &PubMirror{
		sent:     gate.New("send_called", opts...),
		consumed: gate.New("get_called", opts...),
		declared: declared,
		data:     make(map[string]domain.Message, len(topics)),
	}
}

// Send stores a copy of msg under topic and blocks until the driver consumed
// it. The service may reuse msg once Send returns. Service side.
func (p *PubMirror) Send(ctx context.Context, topic string, msg domain.Message) error {
	msg = msg.Clone()
	msg.Topic = topic

	p.mu.Lock()
	p.data[topic] = msg
	p.last = topic
	if !p.declared[topic] {
		p.violation = fmt.Errorf("%w: %q", domain.ErrUnexpectedTopic, topic)
	}
	p.mu.Unlock()

	p.sent.Signal()
	return p.consumed.WaitAndClear(ctx, gate.RoleService)
}

// WaitForMessage waits for the next publication and releases the publisher.
// Driver side. A publication on an undeclared topic is returned as an error
// wrapping domain.ErrUnexpectedTopic.
func (p *PubMirror) WaitForMessage(ctx context.Context) (domain.Message, error) {
	if err := p.sent.WaitAndClear(ctx, gate.RoleDriver); err != nil {
		return domain.Message{}, err
	}

	p.mu.Lock()
	msg := p.data[p.last]
	violation := p.violation
	p.violation = nil
	p.mu.Unlock()

	p.consumed.Signal()
	if violation != nil {
		return msg, violation
	}
	return msg, nil
}

// Latest returns the last message stored for topic.
func (p *PubMirror) Latest(topic string) (domain.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.data[topic]
	return msg, ok
}

var _ ports.Publisher = (*PubMirror)(nil)
