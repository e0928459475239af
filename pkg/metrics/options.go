package metrics

import "github.com/prometheus/client_golang/prometheus"

// Option configures a Manager before its collectors are registered.
type Option func(*Manager)

// WithNamespace overrides the "insights" metric prefix.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem overrides the "engine" subsystem.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithExponentialBuckets builds count latency buckets starting at startMs.
// Invalid input keeps the defaults.
func WithExponentialBuckets(startMs, factor float64, count int) Option {
	return func(m *Manager) {
		if startMs > 0 && factor > 1 && count > 0 {
			m.histogramBuckets = prometheus.ExponentialBuckets(startMs, factor, count)
		}
	}
}

// WithConstLabels adds labels stamped on every collector, e.g. the store kind.
func WithConstLabels(labels map[string]string) Option {
	return func(m *Manager) {
		for k, v := range labels {
			m.constLabels[k] = v
		}
	}
}

// WithRegisterer registers the collectors somewhere other than the default
// Prometheus registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}
