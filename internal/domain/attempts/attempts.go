// Package attempts limits out-of-range check-in attempts per student, class
// and day.
package attempts

import (
	"context"
	"errors"
	"sync"

	"github.com/okian/presence/internal/domain/model"
)

// DefaultMaxAttempts is the number of invalid-location attempts allowed per day.
const DefaultMaxAttempts = 2

// ErrInvalidKey is returned for keys with empty parts.
var ErrInvalidKey = errors.New("invalid attempt key")

// Outcome is the result of registering one invalid attempt.
type Outcome struct {
	// AttemptNumber is the count after this call.
	AttemptNumber int
	// Remaining is how many more invalid attempts are allowed.
	Remaining int
	// Blocked is set when the limit was already reached before this call;
	// nothing was recorded.
	Blocked bool
}

// Counter is the GPSInvalidCounter store. Register must read and
// conditionally increment atomically per key.
type Counter interface {
	Register(ctx context.Context, key model.AttemptKey, attempt model.GPSAttempt, limit int) (Outcome, error)
	Get(ctx context.Context, key model.AttemptKey) (model.GPSInvalidCounter, error)
}

// Evaluate applies the limit to a pre-increment count.
func Evaluate(count, limit int) Outcome {
	if count >= limit {
		return Outcome{AttemptNumber: count, Remaining: 0, Blocked: true}
	}
	return Outcome{AttemptNumber: count + 1, Remaining: limit - count - 1}
}

// Validate rejects keys with missing parts.
func Validate(key model.AttemptKey) error {
	if key.StudentID == "" || key.ClassID == "" || key.Date == "" {
		return ErrInvalidKey
	}
	return nil
}

// InMemory implements Counter with a mutex-guarded map.
type InMemory struct {
	mu       sync.Mutex
	counters map[model.AttemptKey]*model.GPSInvalidCounter
}

// NewInMemory creates an empty counter store.
func NewInMemory() *InMemory {
	return &InMemory{counters: make(map[model.AttemptKey]*model.GPSInvalidCounter)}
}

// Register implements Counter.
func (m *InMemory) Register(_ context.Context, key model.AttemptKey, attempt model.GPSAttempt, limit int) (Outcome, error) {
	if err := Validate(key); err != nil {
		return Outcome{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		c = &model.GPSInvalidCounter{Key: key}
		m.counters[key] = c
	}
	out := Evaluate(c.AttemptCount, limit)
	if out.Blocked {
		return out, nil
	}
	c.Attempts = append(c.Attempts, attempt)
	c.AttemptCount = len(c.Attempts)
	c.LastAttemptTime = attempt.Timestamp
	return out, nil
}

// Get implements Counter. A missing key yields a zero counter.
func (m *InMemory) Get(_ context.Context, key model.AttemptKey) (model.GPSInvalidCounter, error) {
	if err := Validate(key); err != nil {
		return model.GPSInvalidCounter{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		return model.GPSInvalidCounter{Key: key}, nil
	}
	out := *c
	out.Attempts = append([]model.GPSAttempt(nil), c.Attempts...)
	return out, nil
}

// Prune drops counters for dates before cutoff (same layout as the key date)
// and returns how many were removed.
func (m *InMemory) Prune(cutoff string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.counters {
		if k.Date < cutoff {
			delete(m.counters, k)
			n++
		}
	}
	return n
}

// Size returns the number of keys held.
func (m *InMemory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}
