package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/pipeline"
)

const defaultLogCapacity = 10000

type attendanceKey struct {
	student, class, date string
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	templates  map[string]model.EnrollmentTemplate
	attendance map[attendanceKey]model.AttendanceRecord
	classes    map[string]model.ClassInfo
	liveness   []model.LivenessLogEntry
	captures   []model.CaptureLogEntry
	gps        []model.GPSAuditEntry
	pending    map[string][]model.Notification
	cfg        settings
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryStore{
		templates:  make(map[string]model.EnrollmentTemplate),
		attendance: make(map[attendanceKey]model.AttendanceRecord),
		classes:    make(map[string]model.ClassInfo),
		pending:    make(map[string][]model.Notification),
		cfg:        cfg,
	}
}

// GetTemplate implements Store.
func (m *MemoryStore) GetTemplate(_ context.Context, userID string) (*model.EnrollmentTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[userID]
	if !ok {
		return nil, nil
	}
	t.Embedding = append([]float64(nil), t.Embedding...)
	t.EmbeddingStd = append([]float64(nil), t.EmbeddingStd...)
	return &t, nil
}

// SaveTemplate implements Store.
func (m *MemoryStore) SaveTemplate(_ context.Context, t model.EnrollmentTemplate) error {
	if t.UserID == "" {
		return fmt.Errorf("%w: template without user", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.UserID] = t
	return nil
}

// HasAttendance implements Store.
func (m *MemoryStore) HasAttendance(_ context.Context, studentID, classID, date string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.attendance[attendanceKey{studentID, classID, date}]
	return ok, nil
}

// RecordAttendance implements Store.
func (m *MemoryStore) RecordAttendance(_ context.Context, rec model.AttendanceRecord) error {
	if rec.StudentID == "" || rec.ClassID == "" || rec.Date == "" {
		return fmt.Errorf("%w: attendance without student, class or date", ErrInvalidRecord)
	}
	k := attendanceKey{rec.StudentID, rec.ClassID, rec.Date}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attendance[k]; ok {
		return fmt.Errorf("%w: %s/%s on %s", pipeline.ErrAlreadyCheckedInToday, rec.StudentID, rec.ClassID, rec.Date)
	}
	m.attendance[k] = rec
	return nil
}

// GetClass implements Store.
func (m *MemoryStore) GetClass(_ context.Context, classID string) (*model.ClassInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[classID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// SaveClass implements Store.
func (m *MemoryStore) SaveClass(_ context.Context, c model.ClassInfo) error {
	if c.ID == "" {
		return fmt.Errorf("%w: class without id", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ID] = c
	return nil
}

// AppendLiveness implements Store.
func (m *MemoryStore) AppendLiveness(_ context.Context, e model.LivenessLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveness = bounded(append(m.liveness, e), m.cfg.logCapacity)
	return nil
}

// AppendCapture implements Store.
func (m *MemoryStore) AppendCapture(_ context.Context, e model.CaptureLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = bounded(append(m.captures, e), m.cfg.logCapacity)
	return nil
}

// AppendGPS implements Store.
func (m *MemoryStore) AppendGPS(_ context.Context, e model.GPSAuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gps = bounded(append(m.gps, e), m.cfg.logCapacity)
	return nil
}

// LivenessLogs implements Store.
func (m *MemoryStore) LivenessLogs(_ context.Context, userID string, limit int) ([]model.LivenessLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.liveness, limit, func(e model.LivenessLogEntry) bool { return e.UserID == userID }), nil
}

// CaptureLogs implements Store.
func (m *MemoryStore) CaptureLogs(_ context.Context, userID string, limit int) ([]model.CaptureLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.captures, limit, func(e model.CaptureLogEntry) bool { return e.UserID == userID }), nil
}

// GPSLogs returns out-of-range attempts for a student, newest first.
func (m *MemoryStore) GPSLogs(_ context.Context, studentID string, limit int) ([]model.GPSAuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.gps, limit, func(e model.GPSAuditEntry) bool { return e.StudentID == studentID }), nil
}

// SavePending implements Store.
func (m *MemoryStore) SavePending(_ context.Context, n model.Notification) error {
	if n.InstructorID == "" {
		return fmt.Errorf("%w: notification without instructor", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[n.InstructorID] = append(m.pending[n.InstructorID], n)
	return nil
}

// TakePending implements Store.
func (m *MemoryStore) TakePending(_ context.Context, instructorID string) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending[instructorID]
	delete(m.pending, instructorID)
	return out, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close(context.Context) error { return nil }

func bounded[T any](s []T, capacity int) []T {
	if len(s) > capacity {
		s = append(s[:0:0], s[len(s)-capacity:]...)
	}
	return s
}

func newest[T any](s []T, limit int, keep func(T) bool) []T {
	out := []T{}
	for i := len(s) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if keep(s[i]) {
			out = append(out, s[i])
		}
	}
	return out
}
