package replay

import (
	"github.com/google/uuid"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/registry"
)

// Session is the mutable state of one replay run.
// Only the scheduler goroutine touches it while the run is in progress.
type Session struct {
	ID      string
	Service registry.ServiceConfig

	all        []domain.Message
	inputs     []domain.Message
	topicFrame map[string]int
	outputs    []domain.Output
}

// NewSession sorts msgs by log time and selects the inputs of svc.
// The session works on deep copies, so msgs is never modified even by a
// service that writes to its inputs.
func NewSession(svc registry.ServiceConfig, msgs []domain.Message) *Session {
	all := domain.CloneAll(msgs)
	domain.SortByMonoTime(all)

	return &Session{
		ID:         uuid.NewString(),
		Service:    svc,
		all:        all,
		inputs:     domain.FilterTopics(all, svc.InputSet()),
		topicFrame: make(map[string]int),
	}
}

// Messages returns the whole sorted log.
func (s *Session) Messages() []domain.Message {
	return s.all
}

// Inputs returns the sorted messages on the service's input topics.
func (s *Session) Inputs() []domain.Message {
	return s.inputs
}

// Outputs returns the captured outputs in capture order.
func (s *Session) Outputs() []domain.Output {
	return s.outputs
}

// TopicFrame returns how many inputs on topic were delivered so far.
func (s *Session) TopicFrame(topic string) int {
	return s.topicFrame[topic]
}

func (s *Session) counters(frame int) registry.Counters {
	return registry.Counters{TopicFrame: s.topicFrame, Frame: frame}
}

func (s *Session) advance(topic string) {
	s.topicFrame[topic]++
}

// record appends msg as an output triggered by inputs[index].
func (s *Session) record(msg domain.Message, index int) domain.Output {
	msg.MonoTime = s.inputs[index].MonoTime
	out := domain.Output{Message: msg, InputIndex: index}
	s.outputs = append(s.outputs, out)
	return out
}
