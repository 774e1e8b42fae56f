// Package repository persists templates, attendance, classes, audit trails
// and undelivered notifications, and holds the shared GPS attempt counters.
package repository

import (
	"context"

	"github.com/okian/presence/internal/domain/model"
)

// Store is the document store used by the service. Lookups of missing
// documents return nil without error.
type Store interface {
	GetTemplate(ctx context.Context, userID string) (*model.EnrollmentTemplate, error)
	// SaveTemplate replaces any previous template for the user.
	SaveTemplate(ctx context.Context, t model.EnrollmentTemplate) error

	HasAttendance(ctx context.Context, studentID, classID, date string) (bool, error)
	// RecordAttendance fails with an error wrapping
	// pipeline.ErrAlreadyCheckedInToday when the day already has a record.
	RecordAttendance(ctx context.Context, rec model.AttendanceRecord) error

	GetClass(ctx context.Context, classID string) (*model.ClassInfo, error)
	SaveClass(ctx context.Context, c model.ClassInfo) error

	AppendLiveness(ctx context.Context, e model.LivenessLogEntry) error
	AppendCapture(ctx context.Context, e model.CaptureLogEntry) error
	AppendGPS(ctx context.Context, e model.GPSAuditEntry) error
	LivenessLogs(ctx context.Context, userID string, limit int) ([]model.LivenessLogEntry, error)
	CaptureLogs(ctx context.Context, userID string, limit int) ([]model.CaptureLogEntry, error)
	GPSLogs(ctx context.Context, studentID string, limit int) ([]model.GPSAuditEntry, error)

	// SavePending queues a notification for an offline instructor.
	SavePending(ctx context.Context, n model.Notification) error
	// TakePending removes and returns an instructor's queued notifications,
	// oldest first.
	TakePending(ctx context.Context, instructorID string) ([]model.Notification, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
