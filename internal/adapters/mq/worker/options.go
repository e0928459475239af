package worker

import (
	"time"

	"github.com/okian/insights/pkg/logger"
)

// Option applies a configuration option to a Pool.
type Option func(*settings)

type settings struct {
	size    int
	timeout time.Duration
	name    string
	logger  logger.Logger
}

// WithSize sets the number of concurrent workers.
func WithSize(size int) Option {
	return func(s *settings) {
		if size > 0 {
			s.size = size
		}
	}
}

// WithTaskTimeout bounds every task. Zero disables the bound.
func WithTaskTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		if timeout >= 0 {
			s.timeout = timeout
		}
	}
}

// WithName sets the pool name for identification and logging.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
