// Package audit keeps the append-only trail of liveness frames, capture
// attempts and out-of-range GPS attempts.
//
// Every entry is kept in a bounded local buffer first. Store failures are
// logged and the entry is queued for retry on the next write or Flush, so a
// store outage never blocks a verification decision.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

// Query defaults.
const (
	DefaultQueryLimit    = 100
	defaultLocalCapacity = 1000
)

// Entry kinds used in metrics and the retry backlog.
const (
	KindLiveness = "liveness"
	KindCapture  = "capture"
	KindGPS      = "gps"
)

// ErrPersistenceDegraded marks a write kept locally because the store failed.
var ErrPersistenceDegraded = errors.New("audit persistence degraded")

// Store is the durable side of the audit log. Queries return newest first.
type Store interface {
	AppendLiveness(ctx context.Context, e model.LivenessLogEntry) error
	AppendCapture(ctx context.Context, e model.CaptureLogEntry) error
	AppendGPS(ctx context.Context, e model.GPSAuditEntry) error
	LivenessLogs(ctx context.Context, userID string, limit int) ([]model.LivenessLogEntry, error)
	CaptureLogs(ctx context.Context, userID string, limit int) ([]model.CaptureLogEntry, error)
	GPSLogs(ctx context.Context, studentID string, limit int) ([]model.GPSAuditEntry, error)
}

type pendingWrite struct {
	seq   uint64
	kind  string
	write func(context.Context, Store) error
}

// Log is the audit writer and reader.
type Log struct {
	store    Store
	capacity int
	now      func() time.Time
	logger   logger.Logger

	// writeMu serializes store writes so entries land in submission order.
	writeMu sync.Mutex

	mu       sync.Mutex
	liveness []model.LivenessLogEntry
	captures []model.CaptureLogEntry
	gps      []model.GPSAuditEntry
	backlog  []pendingWrite
	seq      uint64
}

// New creates a Log.
func New(opts ...Option) *Log {
	l := &Log{
		capacity: defaultLocalCapacity,
		now:      time.Now,
		logger:   logger.Named("audit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogLiveness records one analysed frame. The returned error is
// ErrPersistenceDegraded when only the local copy was kept; callers may ignore it.
func (l *Log) LogLiveness(ctx context.Context, e model.LivenessLogEntry) error {
	l.stamp(&e.ID, &e.LoggedAt)
	l.mu.Lock()
	l.liveness = appendBounded(l.liveness, e, l.capacity)
	l.mu.Unlock()

	l.logger.Info(ctx, "liveness frame logged",
		logger.String("user_id", e.UserID),
		logger.String("session_id", e.SessionID),
		logger.Int("frame_index", e.FrameIndex),
		logger.Float64("score", e.Score),
		logger.String("status", string(e.Status)),
		logger.Int("blink", e.Indicators.BlinkCount),
		logger.Int("mouth", e.Indicators.MouthMovementCount),
		logger.Int("head", e.Indicators.HeadMovementCount))

	return l.persist(ctx, KindLiveness, func(ctx context.Context, s Store) error {
		return s.AppendLiveness(ctx, e)
	})
}

// LogCapture records one check-in capture attempt.
func (l *Log) LogCapture(ctx context.Context, e model.CaptureLogEntry) error {
	l.stamp(&e.ID, &e.LoggedAt)
	l.mu.Lock()
	l.captures = appendBounded(l.captures, e, l.capacity)
	l.mu.Unlock()

	l.logger.Info(ctx, "capture attempt logged",
		logger.String("user_id", e.UserID),
		logger.String("class_id", e.ClassID),
		logger.Bool("success", e.CaptureSuccess),
		logger.Bool("liveness_verified", e.LivenessVerified),
		logger.String("failed_stage", e.FailedStage),
		logger.String("error_type", e.ErrorType))

	return l.persist(ctx, KindCapture, func(ctx context.Context, s Store) error {
		return s.AppendCapture(ctx, e)
	})
}

// LogGPS records one out-of-range attempt.
func (l *Log) LogGPS(ctx context.Context, e model.GPSAuditEntry) error {
	l.stamp(&e.ID, &e.Timestamp)
	l.mu.Lock()
	l.gps = appendBounded(l.gps, e, l.capacity)
	l.mu.Unlock()

	l.logger.Warn(ctx, "invalid gps attempt logged",
		logger.String("student_id", e.StudentID),
		logger.String("class_id", e.ClassID),
		logger.Float64("distance_m", e.DistanceMeters),
		logger.Int("attempt", e.AttemptNumber),
		logger.Bool("blocked", e.Blocked))

	return l.persist(ctx, KindGPS, func(ctx context.Context, s Store) error {
		return s.AppendGPS(ctx, e)
	})
}

func (l *Log) stamp(id *string, at *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if at.IsZero() {
		*at = l.now().UTC()
	}
}

// persist drains the backlog then writes w. While older writes are still
// pending w is queued behind them; on failure w joins the backlog.
func (l *Log) persist(ctx context.Context, kind string, w func(context.Context, Store) error) error {
	if l.store == nil {
		return nil
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if n := l.flush(ctx); n > 0 {
		metrics.RecordAuditWrite(kind, false)
		l.enqueue(kind, w)
		return ErrPersistenceDegraded
	}
	if err := w(ctx, l.store); err != nil {
		metrics.RecordAuditWrite(kind, false)
		l.logger.Warn(ctx, "audit store write failed, kept locally",
			logger.String("kind", kind), logger.Error(err))
		l.enqueue(kind, w)
		return ErrPersistenceDegraded
	}
	metrics.RecordAuditWrite(kind, true)
	return nil
}

func (l *Log) enqueue(kind string, w func(context.Context, Store) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.backlog = appendBounded(l.backlog, pendingWrite{seq: l.seq, kind: kind, write: w}, l.capacity)
}

// Flush retries queued writes in order and stops at the first failure.
// It returns how many writes are still pending. Concurrent calls take turns.
func (l *Log) Flush(ctx context.Context) int {
	if l.store == nil {
		return 0
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.flush(ctx)
}

// flush requires writeMu.
func (l *Log) flush(ctx context.Context) int {
	for {
		l.mu.Lock()
		if len(l.backlog) == 0 {
			l.mu.Unlock()
			return 0
		}
		next := l.backlog[0]
		l.mu.Unlock()

		if err := next.write(ctx, l.store); err != nil {
			l.mu.Lock()
			n := len(l.backlog)
			l.mu.Unlock()
			return n
		}
		metrics.RecordAuditWrite(next.kind, true)

		// The head may have been evicted by the capacity bound meanwhile.
		l.mu.Lock()
		if len(l.backlog) > 0 && l.backlog[0].seq == next.seq {
			l.backlog = l.backlog[1:]
		}
		l.mu.Unlock()
	}
}

// Pending returns the retry backlog length.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.backlog)
}

// LivenessLogs returns up to limit entries for userID, newest first. The
// local buffer answers when the store is missing or failing.
func (l *Log) LivenessLogs(ctx context.Context, userID string, limit int) ([]model.LivenessLogEntry, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if l.store != nil {
		out, err := l.store.LivenessLogs(ctx, userID, limit)
		if err == nil {
			return out, nil
		}
		l.logger.Warn(ctx, "audit store query failed, using local buffer", logger.Error(err))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return newestFor(l.liveness, limit, func(e model.LivenessLogEntry) bool { return e.UserID == userID }), nil
}

// CaptureLogs returns up to limit entries for userID, newest first.
func (l *Log) CaptureLogs(ctx context.Context, userID string, limit int) ([]model.CaptureLogEntry, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if l.store != nil {
		out, err := l.store.CaptureLogs(ctx, userID, limit)
		if err == nil {
			return out, nil
		}
		l.logger.Warn(ctx, "audit store query failed, using local buffer", logger.Error(err))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return newestFor(l.captures, limit, func(e model.CaptureLogEntry) bool { return e.UserID == userID }), nil
}

// GPSLogs returns up to limit out-of-range attempts for studentID, newest first.
func (l *Log) GPSLogs(ctx context.Context, studentID string, limit int) ([]model.GPSAuditEntry, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if l.store != nil {
		out, err := l.store.GPSLogs(ctx, studentID, limit)
		if err == nil {
			return out, nil
		}
		l.logger.Warn(ctx, "audit store query failed, using local buffer", logger.Error(err))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return newestFor(l.gps, limit, func(e model.GPSAuditEntry) bool { return e.StudentID == studentID }), nil
}

func appendBounded[T any](s []T, v T, capacity int) []T {
	s = append(s, v)
	if len(s) > capacity {
		s = append(s[:0:0], s[len(s)-capacity:]...)
	}
	return s
}

func newestFor[T any](s []T, limit int, keep func(T) bool) []T {
	var out []T
	for i := len(s) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(s[i]) {
			out = append(out, s[i])
		}
	}
	return out
}
