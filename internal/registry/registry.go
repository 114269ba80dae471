package registry

import (
	"fmt"
	"sort"

	"github.com/bft-labs/lockstep/internal/domain"
)

// Registry maps service names to their configuration and compiled
// expectation predicate. A Registry is immutable once built.
type Registry struct {
	topics     Topics
	services   map[string]ServiceConfig
	predicates map[string]Predicate
}

// New validates and compiles every service against topics.
// Any inconsistency fails the whole registry with domain.ErrConfigMismatch.
func New(topics Topics, services ...ServiceConfig) (*Registry, error) {
	r := &Registry{
		topics:     topics.Clone(),
		services:   make(map[string]ServiceConfig, len(services)),
		predicates: make(map[string]Predicate, len(services)),
	}
	for _, svc := range services {
		if _, dup := r.services[svc.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate service %q", domain.ErrConfigMismatch, svc.Name)
		}
		pred, err := Compile(svc, r.topics)
		if err != nil {
			return nil, err
		}
		r.services[svc.Name] = svc.Clone()
		r.predicates[svc.Name] = pred
	}
	return r, nil
}

// Lookup returns the configuration of the named service.
func (r *Registry) Lookup(name string) (ServiceConfig, error) {
	svc, ok := r.services[name]
	if !ok {
		return ServiceConfig{}, fmt.Errorf("%w: %w: %q", domain.ErrConfigMismatch, domain.ErrUnknownService, name)
	}
	return svc.Clone(), nil
}

// Predicate returns the compiled expectation predicate of the named service.
func (r *Registry) Predicate(name string) (Predicate, error) {
	pred, ok := r.predicates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", domain.ErrConfigMismatch, domain.ErrUnknownService, name)
	}
	return pred, nil
}

// Names returns the registered service names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Services returns every configuration, sorted by name.
func (r *Registry) Services() []ServiceConfig {
	out := make([]ServiceConfig, 0, len(r.services))
	for _, name := range r.Names() {
		out = append(out, r.services[name].Clone())
	}
	return out
}

// Topics returns a copy of the frequency table.
func (r *Registry) Topics() Topics {
	return r.topics.Clone()
}

// With returns a new registry where services replace entries of the same
// name and topics extend or override the frequency table.
func (r *Registry) With(topics Topics, services ...ServiceConfig) (*Registry, error) {
	merged := r.topics.Clone()
	for k, v := range topics {
		merged[k] = v
	}

	byName := make(map[string]ServiceConfig, len(r.services)+len(services))
	for name, svc := range r.services {
		byName[name] = svc
	}
	for _, svc := range services {
		byName[svc.Name] = svc
	}

	all := make([]ServiceConfig, 0, len(byName))
	for _, svc := range byName {
		all = append(all, svc)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return New(merged, all...)
}
