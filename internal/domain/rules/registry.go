// Package rules defines rule descriptors, the immutable rule registry and the
// per-pass evaluation context rules read through.
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/insights/internal/domain/types"
)

// Trigger is the cadence tag an external scheduler runs a rule under.
type Trigger string

// Triggers.
const (
	TriggerDaily    Trigger = "daily"
	TriggerWeekly   Trigger = "weekly"
	TriggerOnDemand Trigger = "on_demand"
)

// ParseTrigger validates a trigger name.
func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(strings.ToLower(strings.TrimSpace(s))); t {
	case TriggerDaily, TriggerWeekly, TriggerOnDemand:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, s)
}

// Evaluator computes insight items for one rule. It returns no items, not an
// error, when there is simply no data.
type Evaluator func(ctx context.Context, ec *Context, opts types.Options) ([]types.InsightItem, error)

// Descriptor registers one rule.
type Descriptor struct {
	ID        string
	Name      string
	Trigger   Trigger
	Domain    string
	Evaluator Evaluator
}

// Info is the introspection view of a descriptor.
type Info struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Trigger Trigger `json:"trigger"`
	Domain  string  `json:"domain"`
}

// Info returns the descriptor metadata without the evaluator.
func (d Descriptor) Info() Info {
	return Info{ID: d.ID, Name: d.Name, Trigger: d.Trigger, Domain: d.Domain}
}

// Registry is an ordered, read-only rule catalog.
type Registry struct {
	rules []Descriptor
}

// NewRegistry validates and copies descs. Order is preserved.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	seen := make(map[string]struct{}, len(descs))
	for i, d := range descs {
		switch {
		case strings.TrimSpace(d.ID) == "":
			return nil, fmt.Errorf("%w: rule #%d has no id", ErrInvalidRegistry, i)
		case d.Evaluator == nil:
			return nil, fmt.Errorf("%w: rule %s has no evaluator", ErrInvalidRegistry, d.ID)
		case strings.TrimSpace(d.Domain) == "":
			return nil, fmt.Errorf("%w: rule %s has no domain", ErrInvalidRegistry, d.ID)
		}
		if _, err := ParseTrigger(string(d.Trigger)); err != nil {
			return nil, fmt.Errorf("%w: rule %s: %w", ErrInvalidRegistry, d.ID, err)
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRegistry, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return &Registry{rules: append([]Descriptor(nil), descs...)}, nil
}

// MustRegistry is NewRegistry for static catalogs; it panics on invalid input.
func MustRegistry(descs ...Descriptor) *Registry {
	r, err := NewRegistry(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

// With returns a new registry with descs appended.
func (r *Registry) With(descs ...Descriptor) (*Registry, error) {
	return NewRegistry(append(r.All(), descs...)...)
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	return len(r.rules)
}

// All returns a copy of every descriptor in order.
func (r *Registry) All() []Descriptor {
	return append([]Descriptor(nil), r.rules...)
}

// Lookup finds a descriptor by id with a linear scan.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	for _, d := range r.rules {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ByTrigger returns the rules tagged with t, in order.
func (r *Registry) ByTrigger(t Trigger) []Descriptor {
	return r.filter(func(d Descriptor) bool { return d.Trigger == t })
}

// ByDomain returns the rules of domain, in order. An empty domain matches all.
func (r *Registry) ByDomain(domain string) []Descriptor {
	if domain == "" {
		return r.All()
	}
	return r.filter(func(d Descriptor) bool { return d.Domain == domain })
}

// Infos returns the metadata of descs.
func Infos(descs []Descriptor) []Info {
	out := make([]Info, len(descs))
	for i, d := range descs {
		out[i] = d.Info()
	}
	return out
}

func (r *Registry) filter(keep func(Descriptor) bool) []Descriptor {
	out := make([]Descriptor, 0, len(r.rules))
	for _, d := range r.rules {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
