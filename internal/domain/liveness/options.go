package liveness

import (
	"time"

	"github.com/okian/presence/pkg/logger"
)

// StoreOption configures a SessionStore.
type StoreOption func(*SessionStore)

// WithTTL sets how long an idle session stays usable.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxSessions bounds the number of live sessions. When full, expired
// sessions are swept first; if none expired, creation fails.
// maxSessions <= 0 leaves the store unbounded.
func WithMaxSessions(n int) StoreOption {
	return func(s *SessionStore) {
		s.maxSessions = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SessionStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *SessionStore) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) StoreOption {
	return func(s *SessionStore) {
		if l != nil {
			s.logger = l
		}
	}
}
