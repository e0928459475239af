package engine

import (
	"time"

	"github.com/okian/insights/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWorkers sets how many rules of a batch run concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRuleTimeout bounds each rule evaluation.
func WithRuleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ruleTimeout = d
		}
	}
}

// WithLookback sets the rolling window rules read.
func WithLookback(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookback = d
		}
	}
}

// WithClock overrides the evaluation clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
