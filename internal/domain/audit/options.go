package audit

import (
	"time"

	"github.com/okian/presence/pkg/logger"
)

// Option configures a Log.
type Option func(*Log)

// WithStore sets the durable store. Without one the log is local only.
func WithStore(s Store) Option {
	return func(l *Log) {
		l.store = s
	}
}

// WithLocalCapacity bounds each local buffer and the retry backlog.
func WithLocalCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Log) {
		if lg != nil {
			l.logger = lg
		}
	}
}
