package liveness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/presence/internal/domain/types"
	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

const (
	defaultTTL         = 2 * time.Minute
	defaultMaxSessions = 10000
)

// Session is one addressable multi-frame liveness flow. Detector state lives
// only here and is never shared with another session.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mu        sync.Mutex
	analyzer  *Analyzer
	expiresAt time.Time
	frames    int
	last      types.LivenessResult
}

// Analyze feeds one frame to the session's detectors.
func (s *Session) Analyze(face *types.Face, pose types.PoseAngles) types.LivenessResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.last = s.analyzer.Analyze(face, pose)
	return s.last
}

// Last returns the most recent result and the number of frames seen.
func (s *Session) Last() (types.LivenessResult, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.frames
}

// ExpiresAt returns the current expiry.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *Session) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !now.Before(s.expiresAt)
}

func (s *Session) touch(until time.Time) {
	s.mu.Lock()
	s.expiresAt = until
	s.mu.Unlock()
}

// SessionStore keeps live sessions keyed by id with an idle TTL. Expired
// sessions are never revived.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	size        atomic.Int64
	ttl         time.Duration
	maxSessions int
	factory     func() *Analyzer
	now         func() time.Time
	newID       func() string
	logger      logger.Logger
}

// NewSessionStore creates a store that builds a fresh Analyzer per session.
func NewSessionStore(factory func() *Analyzer, opts ...StoreOption) *SessionStore {
	s := &SessionStore{
		sessions:    make(map[string]*Session),
		ttl:         defaultTTL,
		maxSessions: defaultMaxSessions,
		factory:     factory,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger.Named("liveness"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a new session for userID.
func (s *SessionStore) Create(ctx context.Context, userID string) (*Session, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.sweepLocked(now)
		if len(s.sessions) >= s.maxSessions {
			return nil, ErrSessionLimit
		}
	}

	sess := &Session{
		ID:        s.newID(),
		UserID:    userID,
		CreatedAt: now,
		analyzer:  s.factory(),
		expiresAt: now.Add(s.ttl),
	}
	s.sessions[sess.ID] = sess
	s.size.Add(1)
	metrics.UpdateActiveSessions(int(s.size.Load()))
	s.logger.Debug(ctx, "liveness session created",
		logger.String("session_id", sess.ID), logger.String("user_id", userID))
	return sess, nil
}

// Get returns the live session with id owned by userID and extends its TTL.
func (s *SessionStore) Get(ctx context.Context, id, userID string) (*Session, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.expired(now) {
		s.removeLocked(id)
		s.logger.Debug(ctx, "liveness session expired", logger.String("session_id", id))
		return nil, ErrSessionNotFound
	}
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	sess.touch(now.Add(s.ttl))
	return sess, nil
}

// Delete ends a session. Deleting an unknown id reports ErrSessionNotFound.
func (s *SessionStore) Delete(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return ErrSessionNotFound
	}
	s.removeLocked(id)
	return nil
}

// Sweep drops every expired session and returns how many were removed.
func (s *SessionStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

// Run sweeps on every tick until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug(ctx, "swept expired liveness sessions", logger.Int("count", n))
			}
		}
	}
}

// Size returns the number of sessions held, including expired ones not yet swept.
func (s *SessionStore) Size() int64 {
	return s.size.Load()
}

// TTL returns the idle expiry.
func (s *SessionStore) TTL() time.Duration { return s.ttl }

// Must be called with s.mu held.
func (s *SessionStore) sweepLocked(now time.Time) int {
	removed := 0
	for id, sess := range s.sessions {
		if sess.expired(now) {
			s.removeLocked(id)
			removed++
		}
	}
	return removed
}

// Must be called with s.mu held.
func (s *SessionStore) removeLocked(id string) {
	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	s.size.Add(-1)
	metrics.UpdateActiveSessions(int(s.size.Load()))
}
