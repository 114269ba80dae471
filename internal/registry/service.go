package registry

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/bft-labs/lockstep/internal/domain"
)

// Transport selects how the service under test is hosted.
type Transport string

const (
	// InProcess runs the service entry point on a goroutine wired to mirrors.
	InProcess Transport = "in-process"

	// Subprocess runs the service as an OS process talking to the socket bus.
	Subprocess Transport = "subprocess"
)

// Valid reports whether t names a known transport.
func (t Transport) Valid() bool {
	return t == InProcess || t == Subprocess
}

// Fingerprint describes the one-time auto-detection preload some services
// run on startup: the first Count bus messages of the whole log are handed
// over in one burst and the service is considered done once it reads
// PinTopic from its subscriptions.
type Fingerprint struct {
	BusTopic string
	Count    int
	PinTopic string
}

// DefaultFingerprintCount is the number of bus messages preloaded when a
// Fingerprint does not set Count.
const DefaultFingerprintCount = 300

// Limit returns Count, or DefaultFingerprintCount when unset.
func (f Fingerprint) Limit() int {
	if f.Count <= 0 {
		return DefaultFingerprintCount
	}
	return f.Count
}

// ServiceConfig describes one service under test.
type ServiceConfig struct {
	Name      string
	Transport Transport

	// PubSub maps every input topic to the output topics it may trigger.
	// Inputs that never trigger output map to an empty list.
	PubSub map[string][]string

	// Ignore lists dotted field paths excluded from output comparison.
	Ignore []string

	// Command and Dir are used by the subprocess transport only.
	Command []string
	Dir     string

	// BusTopic is the input delivered through the synchronous socket rather
	// than the subscription mirror. Empty when the service has no raw bus input.
	BusTopic string

	Initializer *Fingerprint

	// Policy overrides the frequency-ratio expectation rule.
	Policy Policy

	// Tolerance is the relative tolerance for numeric comparison; 0 is exact.
	Tolerance float64
}

// InputTopics returns the declared input topics, sorted.
func (c ServiceConfig) InputTopics() []string {
	topics := lo.Keys(c.PubSub)
	sort.Strings(topics)
	return topics
}

// OutputTopics returns every output topic the service may publish, sorted.
func (c ServiceConfig) OutputTopics() []string {
	topics := lo.Uniq(lo.Flatten(lo.Values(c.PubSub)))
	sort.Strings(topics)
	return topics
}

// SubscribedTopics returns the input topics delivered through the
// subscription mirror, which excludes the bus topic.
func (c ServiceConfig) SubscribedTopics() []string {
	return lo.Filter(c.InputTopics(), func(t string, _ int) bool {
		return t != c.BusTopic
	})
}

// InputSet returns the input topics as a lookup set.
func (c ServiceConfig) InputSet() map[string]bool {
	return lo.SliceToMap(c.InputTopics(), func(t string) (string, bool) {
		return t, true
	})
}

// PolicyKind names the configured expectation policy.
func (c ServiceConfig) PolicyKind() string {
	if c.Policy == nil {
		return FrequencyRatio{}.Kind()
	}
	return c.Policy.Kind()
}

// Validate checks the configuration for internal consistency.
// Frequency checks need the topic table and are done by Compile.
func (c ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: service name is required", domain.ErrConfigMismatch)
	}
	if !c.Transport.Valid() {
		return fmt.Errorf("%w: service %s: unknown transport %q", domain.ErrConfigMismatch, c.Name, c.Transport)
	}
	if len(c.PubSub) == 0 {
		return fmt.Errorf("%w: service %s: no input topics", domain.ErrConfigMismatch, c.Name)
	}
	if c.Transport == Subprocess && len(c.Command) == 0 {
		return fmt.Errorf("%w: service %s: subprocess transport needs a command", domain.ErrConfigMismatch, c.Name)
	}
	if c.BusTopic != "" {
		if _, ok := c.PubSub[c.BusTopic]; !ok {
			return fmt.Errorf("%w: service %s: bus topic %q is not a declared input", domain.ErrConfigMismatch, c.Name, c.BusTopic)
		}
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("%w: service %s: negative tolerance", domain.ErrConfigMismatch, c.Name)
	}
	if f := c.Initializer; f != nil {
		if f.BusTopic == "" || f.PinTopic == "" {
			return fmt.Errorf("%w: service %s: fingerprint needs bus and pin topics", domain.ErrConfigMismatch, c.Name)
		}
		if c.Transport != InProcess {
			return fmt.Errorf("%w: service %s: fingerprint is only supported in-process", domain.ErrConfigMismatch, c.Name)
		}
		if f.BusTopic != c.BusTopic {
			return fmt.Errorf("%w: service %s: fingerprint bus topic %q differs from %q", domain.ErrConfigMismatch, c.Name, f.BusTopic, c.BusTopic)
		}
	}
	return nil
}

// Clone returns a deep copy of c.
func (c ServiceConfig) Clone() ServiceConfig {
	out := c
	out.PubSub = make(map[string][]string, len(c.PubSub))
	for in, outs := range c.PubSub {
		out.PubSub[in] = append([]string{}, outs...)
	}
	out.Ignore = append([]string(nil), c.Ignore...)
	out.Command = append([]string(nil), c.Command...)
	if c.Initializer != nil {
		f := *c.Initializer
		out.Initializer = &f
	}
	return out
}
