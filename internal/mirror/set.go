package mirror

import (
	"github.com/bft-labs/lockstep/internal/gate"
	"github.com/bft-labs/lockstep/internal/ports"
)

// Set bundles the mirrors standing in for one service's transport.
// Bus is nil when the service has no raw bus input.
type Set struct {
	Sub *SubMirror
	Pub *PubMirror
	Bus *Socket
}

// NewSet creates the mirrors for a service subscribing to subTopics,
// publishing pubTopics and, when busTopic is not empty, reading raw bus
// messages on busTopic.
func NewSet(subTopics, pubTopics []string, busTopic string, opts ...gate.Option) *Set {
	s := &Set{
		Sub: NewSubMirror(subTopics, opts...),
		Pub: NewPubMirror(pubTopics, opts...),
	}
	if busTopic != "" {
		s.Bus = NewSocket(busTopic, opts...)
	}
	return s
}

// Handles returns the service-side view of the set.
func (s *Set) Handles() ports.Handles {
	h := ports.Handles{Sub: s.Sub, Pub: s.Pub}
	if s.Bus != nil {
		h.Bus = s.Bus
	}
	return h
}

// IsBus reports whether topic is delivered through the bus socket.
func (s *Set) IsBus(topic string) bool {
	return s.Bus != nil && s.Bus.Topic() == topic
}
