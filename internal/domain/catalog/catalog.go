// Package catalog assembles the built-in rule families.
package catalog

import (
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/rules/circles"
	"github.com/okian/insights/internal/domain/rules/missions"
	"github.com/okian/insights/internal/domain/rules/youth"
)

// Descriptors returns every built-in rule, family by family.
func Descriptors() []rules.Descriptor {
	var all []rules.Descriptor
	all = append(all, circles.Descriptors()...)
	all = append(all, youth.Descriptors()...)
	all = append(all, missions.Descriptors()...)
	return all
}

// Default returns the registry of built-in rules.
func Default() *rules.Registry {
	return rules.MustRegistry(Descriptors()...)
}
