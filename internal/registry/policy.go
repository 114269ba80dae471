package registry

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/bft-labs/lockstep/internal/domain"
)

// Counters is the replay state an expectation policy may look at.
type Counters struct {
	// TopicFrame counts inputs already delivered per input topic.
	TopicFrame map[string]int

	// Frame counts completed subscription updates of the service.
	Frame int
}

// Decision is the outcome of evaluating a policy for one input message.
type Decision struct {
	// Outputs lists the topics the service is expected to publish.
	Outputs []string

	// Deliver reports whether pending inputs are pushed to the service now.
	Deliver bool
}

// Expects reports whether any output is due.
func (d Decision) Expects() bool {
	return len(d.Outputs) > 0
}

// Predicate decides, for one input message, which outputs are due.
// Predicates are pure functions of their arguments.
type Predicate func(msg domain.Message, c Counters) Decision

// Policy is an expectation policy. The set of policies is closed: see
// FrequencyRatio, AllowListed, Decimated and RawProtocolMatch.
type Policy interface {
	// Kind returns the policy name used in configuration files.
	Kind() string

	compile(cfg ServiceConfig, topics Topics) (Predicate, error)
}

// Policy kinds as they appear in configuration files.
const (
	KindFrequencyRatio   = "frequency_ratio"
	KindAllowListed      = "allow_listed"
	KindDecimated        = "decimated"
	KindRawProtocolMatch = "raw_protocol"
)

// Compile validates cfg against topics and returns its predicate.
func Compile(cfg ServiceConfig, topics Topics) (Predicate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy := cfg.Policy
	if policy == nil {
		policy = FrequencyRatio{}
	}
	pred, err := policy.compile(cfg, topics)
	if err != nil {
		return nil, fmt.Errorf("service %s: %s policy: %w", cfg.Name, policy.Kind(), err)
	}
	return pred, nil
}

// FrequencyRatio is the default policy. Output S is due on the n-th input of
// topic T (1-based) when n is a multiple of round(freq(T) / freq(S)).
type FrequencyRatio struct{}

// Kind implements Policy.
func (FrequencyRatio) Kind() string { return KindFrequencyRatio }

type ratioRule struct {
	output string
	every  int
}

func (FrequencyRatio) compile(cfg ServiceConfig, topics Topics) (Predicate, error) {
	rules := make(map[string][]ratioRule, len(cfg.PubSub))
	for _, in := range cfg.InputTopics() {
		for _, out := range cfg.PubSub[in] {
			every, err := topics.Ratio(in, out)
			if err != nil {
				return nil, err
			}
			rules[in] = append(rules[in], ratioRule{output: out, every: every})
		}
	}

	return func(msg domain.Message, c Counters) Decision {
		n := c.TopicFrame[msg.Topic] + 1
		var outs []string
		for _, r := range rules[msg.Topic] {
			if n%r.every == 0 {
				outs = append(outs, r.output)
			}
		}
		return Decision{Outputs: outs, Deliver: len(outs) > 0}
	}, nil
}

// AllowListed expects every output only on bus messages carrying a frame
// from Src whose address is in Addresses. With IgnoreBus set every bus
// message triggers all outputs.
type AllowListed struct {
	BusTopic  string
	Src       uint8
	Addresses []uint32
	IgnoreBus bool
}

// Kind implements Policy.
func (AllowListed) Kind() string { return KindAllowListed }

func (p AllowListed) compile(cfg ServiceConfig, _ Topics) (Predicate, error) {
	if p.BusTopic == "" {
		return nil, fmt.Errorf("%w: bus topic is required", domain.ErrConfigMismatch)
	}
	if _, ok := cfg.PubSub[p.BusTopic]; !ok {
		return nil, fmt.Errorf("%w: bus topic %q is not a declared input", domain.ErrConfigMismatch, p.BusTopic)
	}
	if !p.IgnoreBus && len(p.Addresses) == 0 {
		return nil, fmt.Errorf("%w: empty address allow-list", domain.ErrConfigMismatch)
	}

	outputs := cfg.OutputTopics()
	allowed := lo.SliceToMap(p.Addresses, func(a uint32) (uint32, bool) { return a, true })
	busTopic, src, ignore := p.BusTopic, p.Src, p.IgnoreBus

	return func(msg domain.Message, _ Counters) Decision {
		if msg.Topic != busTopic {
			return Decision{}
		}
		if ignore {
			return Decision{Outputs: outputs, Deliver: true}
		}
		for _, f := range msg.Frames {
			if f.Src == src && allowed[f.Address] {
				return Decision{Outputs: outputs, Deliver: true}
			}
		}
		return Decision{}
	}, nil
}

// Decimated expects every output on the first update and whenever the
// number of completed updates is a multiple of Every and the input is Topic. Inputs are delivered on the first update
// and on every Topic message, so the update counter keeps moving.
type Decimated struct {
	Topic string
	Every int
}

// Kind implements Policy.
func (Decimated) Kind() string { return KindDecimated }

func (p Decimated) compile(cfg ServiceConfig, _ Topics) (Predicate, error) {
	if p.Every <= 0 {
		return nil, fmt.Errorf("%w: decimation factor must be positive", domain.ErrConfigMismatch)
	}
	if _, ok := cfg.PubSub[p.Topic]; !ok {
		return nil, fmt.Errorf("%w: decimated topic %q is not a declared input", domain.ErrConfigMismatch, p.Topic)
	}

	outputs := cfg.OutputTopics()
	topic, every := p.Topic, p.Every

	return func(msg domain.Message, c Counters) Decision {
		first := c.Frame == 0
		match := msg.Topic == topic
		d := Decision{Deliver: first || match}
		if first || (match && c.Frame%every == 0) {
			d.Outputs = outputs
		}
		return d
	}, nil
}

// RawRule matches the class and id bytes of a raw protocol payload.
type RawRule struct {
	Class  uint8
	ID     uint8
	Expect bool
}

// RawProtocolMatch expects every output when the class and id bytes of a raw
// payload (offsets 2 and 3) match a rule with Expect set. Payloads matching
// no rule expect nothing.
type RawProtocolMatch struct {
	Rules []RawRule
}

// Kind implements Policy.
func (RawProtocolMatch) Kind() string { return KindRawProtocolMatch }

const (
	rawClassOffset = 2
	rawIDOffset    = 3
)

func (p RawProtocolMatch) compile(cfg ServiceConfig, _ Topics) (Predicate, error) {
	if len(p.Rules) == 0 {
		return nil, fmt.Errorf("%w: no raw protocol rules", domain.ErrConfigMismatch)
	}

	table := make(map[[2]uint8]bool, len(p.Rules))
	for _, r := range p.Rules {
		table[[2]uint8{r.Class, r.ID}] = r.Expect
	}
	outputs := cfg.OutputTopics()

	return func(msg domain.Message, _ Counters) Decision {
		if len(msg.Raw) <= rawIDOffset {
			return Decision{}
		}
		if table[[2]uint8{msg.Raw[rawClassOffset], msg.Raw[rawIDOffset]}] {
			return Decision{Outputs: outputs, Deliver: true}
		}
		return Decision{}
	}, nil
}

// ratio returns max(1, round(a/b)).
func ratio(a, b float64) int {
	r := int(math.Round(a / b))
	if r < 1 {
		return 1
	}
	return r
}
