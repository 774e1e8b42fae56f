package notify

import (
	"time"

	"github.com/okian/presence/pkg/logger"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultSendBuffer   = 64
)

type settings struct {
	logger       logger.Logger
	writeTimeout time.Duration
	pingInterval time.Duration
	sendBuffer   int
	now          func() time.Time
	newID        func() string
}

// Option configures a Hub or Dispatcher.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWriteTimeout bounds each socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithPingInterval sets how often idle sockets are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithSendBuffer sets how many messages may wait per socket before it is
// considered stuck and dropped.
func WithSendBuffer(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithClock overrides the time source used to stamp notifications.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides notification id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *settings) {
		if gen != nil {
			s.newID = gen
		}
	}
}
