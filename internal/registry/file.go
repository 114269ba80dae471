package registry

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/lockstep/internal/domain"
)

// File is the TOML form of registry extensions. Services replace builtin
// entries of the same name; topics extend or override the frequency table.
type File struct {
	Topics   map[string]float64 `toml:"topics"`
	Services []ServiceFile      `toml:"service"`
}

// ServiceFile is the TOML form of a ServiceConfig.
type ServiceFile struct {
	Name        string              `toml:"name"`
	Transport   string              `toml:"transport"`
	PubSub      map[string][]string `toml:"pub_sub"`
	Ignore      []string            `toml:"ignore"`
	Command     []string            `toml:"command"`
	Dir         string              `toml:"dir"`
	BusTopic    string              `toml:"bus_topic"`
	Tolerance   float64             `toml:"tolerance"`
	Initializer *FingerprintFile    `toml:"initializer"`
	Policy      *PolicyFile         `toml:"policy"`
}

// FingerprintFile is the TOML form of a Fingerprint.
type FingerprintFile struct {
	BusTopic string `toml:"bus_topic"`
	Count    int    `toml:"count"`
	PinTopic string `toml:"pin_topic"`
}

// PolicyFile is the TOML form of a Policy. Kind selects which of the
// remaining fields apply.
type PolicyFile struct {
	Kind string `toml:"kind"`

	// decimated
	Topic string `toml:"topic"`
	Every int    `toml:"every"`

	// allow_listed; Car selects a builtin allow-list
	BusTopic  string   `toml:"bus_topic"`
	Src       uint8    `toml:"src"`
	Addresses []uint32 `toml:"addresses"`
	Car       string   `toml:"car"`
	IgnoreBus bool     `toml:"ignore_bus"`

	// raw_protocol
	Rules []RawRuleFile `toml:"rules"`
}

// RawRuleFile is the TOML form of a RawRule.
type RawRuleFile struct {
	Class  uint8 `toml:"class"`
	ID     uint8 `toml:"id"`
	Expect bool  `toml:"expect"`
}

// LoadFile reads and parses a registry TOML file.
func LoadFile(path string) (File, error) {
	var f File
	b, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	return ParseFile(b)
}

// ParseFile parses registry TOML.
func ParseFile(b []byte) (File, error) {
	var f File
	if err := toml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("%w: %w", domain.ErrConfigMismatch, err)
	}
	return f, nil
}

// Apply returns a registry extended with the contents of f.
func (r *Registry) Apply(f File) (*Registry, error) {
	services := make([]ServiceConfig, 0, len(f.Services))
	for _, sf := range f.Services {
		svc, err := sf.config()
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return r.With(Topics(f.Topics), services...)
}

func (sf ServiceFile) config() (ServiceConfig, error) {
	transport := Transport(sf.Transport)
	if sf.Transport == "" {
		transport = InProcess
	}
	svc := ServiceConfig{
		Name:      sf.Name,
		Transport: transport,
		PubSub:    sf.PubSub,
		Ignore:    sf.Ignore,
		Command:   sf.Command,
		Dir:       sf.Dir,
		BusTopic:  sf.BusTopic,
		Tolerance: sf.Tolerance,
	}
	if sf.Initializer != nil {
		svc.Initializer = &Fingerprint{
			BusTopic: sf.Initializer.BusTopic,
			Count:    sf.Initializer.Count,
			PinTopic: sf.Initializer.PinTopic,
		}
	}
	if sf.Policy != nil {
		p, err := sf.Policy.policy()
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("service %s: %w", sf.Name, err)
		}
		svc.Policy = p
	}
	return svc, nil
}

func (pf PolicyFile) policy() (Policy, error) {
	switch pf.Kind {
	case "", KindFrequencyRatio:
		return FrequencyRatio{}, nil
	case KindAllowListed:
		if pf.Car != "" {
			p, err := RadarPolicy(pf.Car)
			if err != nil {
				return nil, err
			}
			p.IgnoreBus = pf.IgnoreBus
			if pf.BusTopic != "" {
				p.BusTopic = pf.BusTopic
			}
			return p, nil
		}
		return AllowListed{
			BusTopic:  pf.BusTopic,
			Src:       pf.Src,
			Addresses: pf.Addresses,
			IgnoreBus: pf.IgnoreBus,
		}, nil
	case KindDecimated:
		return Decimated{Topic: pf.Topic, Every: pf.Every}, nil
	case KindRawProtocolMatch:
		rules := make([]RawRule, 0, len(pf.Rules))
		for _, r := range pf.Rules {
			rules = append(rules, RawRule{Class: r.Class, ID: r.ID, Expect: r.Expect})
		}
		return RawProtocolMatch{Rules: rules}, nil
	default:
		return nil, fmt.Errorf("%w: unknown policy kind %q", domain.ErrConfigMismatch, pf.Kind)
	}
}
