package repository

import "github.com/okian/presence/pkg/logger"

// Option configures the store implementations.
type Option func(*settings)

type settings struct {
	logCapacity int
	counterTTL  int64
	logger      logger.Logger
}

func defaults() settings {
	return settings{
		logCapacity: defaultLogCapacity,
		counterTTL:  defaultCounterTTLSeconds,
		logger:      logger.Named("repository"),
	}
}

// WithLogCapacity bounds each in-memory audit collection.
func WithLogCapacity(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.logCapacity = n
		}
	}
}

// WithCounterTTLSeconds sets how long a Redis attempt key lives after its
// last write. Keys are per day so anything past two days is only clean-up.
func WithCounterTTLSeconds(sec int64) Option {
	return func(s *settings) {
		if sec > 0 {
			s.counterTTL = sec
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
