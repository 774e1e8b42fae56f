// Package model contains records persisted by the store and passed between layers.
package model

import (
	"fmt"
	"time"

	"github.com/okian/presence/internal/domain/types"
)

// DateLayout formats the calendar day used in attendance and attempt keys.
const DateLayout = "2006-01-02"

// EnrollmentTemplate is the stored identity reference for one user.
type EnrollmentTemplate struct {
	UserID       string    `json:"user_id" bson:"_id"`
	Embedding    []float64 `json:"embedding" bson:"embedding"`
	EmbeddingStd []float64 `json:"embedding_std" bson:"embedding_std"`
	StdMean      float64   `json:"std_mean" bson:"std_mean"`
	SampleCount  int       `json:"samples" bson:"samples"`
	TotalSamples int       `json:"total_samples" bson:"total_samples"`
	YawRange     float64   `json:"yaw_range" bson:"yaw_range"`
	PitchRange   float64   `json:"pitch_range" bson:"pitch_range"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// ClassInfo links a class to the instructor who receives its notifications.
type ClassInfo struct {
	ID           string `json:"id" bson:"_id"`
	Name         string `json:"name" bson:"name"`
	InstructorID string `json:"instructor_id" bson:"instructor_id"`
}

// StageValidation is the itemised result of one verification stage.
type StageValidation struct {
	IsValid bool    `json:"is_valid" bson:"is_valid"`
	Score   float64 `json:"score,omitempty" bson:"score,omitempty"`
	Message string  `json:"message" bson:"message"`
}

// GPSValidation is the location stage result.
type GPSValidation struct {
	IsValid        bool    `json:"is_valid" bson:"is_valid"`
	DistanceMeters float64 `json:"distance_meters" bson:"distance_meters"`
	Message        string  `json:"message" bson:"message"`
}

// FaceValidation is the identity stage result.
type FaceValidation struct {
	IsValid         bool    `json:"is_valid" bson:"is_valid"`
	SimilarityScore float64 `json:"similarity_score" bson:"similarity_score"`
	Message         string  `json:"message" bson:"message"`
}

// Validations collects every stage result of a check-in.
type Validations struct {
	Liveness *StageValidation `json:"liveness,omitempty" bson:"liveness,omitempty"`
	Spoof    *StageValidation `json:"spoof,omitempty" bson:"spoof,omitempty"`
	Face     *FaceValidation  `json:"face,omitempty" bson:"face,omitempty"`
	GPS      *GPSValidation   `json:"gps,omitempty" bson:"gps,omitempty"`
}

// Location is a reported GPS fix.
type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

// AttendanceRecord is written once per successful check-in.
type AttendanceRecord struct {
	ID          string      `json:"id" bson:"_id"`
	StudentID   string      `json:"student_id" bson:"student_id"`
	ClassID     string      `json:"class_id" bson:"class_id"`
	Date        string      `json:"date" bson:"date"`
	CheckInTime time.Time   `json:"check_in_time" bson:"check_in_time"`
	Location    Location    `json:"location" bson:"location"`
	Status      string      `json:"status" bson:"status"`
	Validations Validations `json:"validations" bson:"validations"`
}

// AttemptKey identifies a GPS-invalid counter: one per student, class and day.
type AttemptKey struct {
	StudentID string
	ClassID   string
	Date      string
}

// String renders the key as a composite store id.
func (k AttemptKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.StudentID, k.ClassID, k.Date)
}

// GPSAttempt is one out-of-range check-in attempt.
type GPSAttempt struct {
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	Latitude       float64   `json:"lat" bson:"lat"`
	Longitude      float64   `json:"lon" bson:"lon"`
	DistanceMeters float64   `json:"distance" bson:"distance"`
	FaceSimilarity float64   `json:"face_similarity" bson:"face_similarity"`
}

// GPSInvalidCounter is the per-key attempt ledger.
type GPSInvalidCounter struct {
	Key             AttemptKey   `json:"-" bson:"-"`
	AttemptCount    int          `json:"attempt_count" bson:"attempt_count"`
	Attempts        []GPSAttempt `json:"attempts" bson:"attempts"`
	LastAttemptTime time.Time    `json:"last_attempt_time" bson:"last_attempt_time"`
}

// LivenessLogEntry records one analysed liveness frame.
type LivenessLogEntry struct {
	ID         string            `json:"id" bson:"_id"`
	UserID     string            `json:"user_id" bson:"user_id"`
	SessionID  string            `json:"session_id" bson:"session_id"`
	FrameIndex int               `json:"frame_index" bson:"frame_index"`
	Timestamp  float64           `json:"timestamp" bson:"timestamp"`
	Score      float64           `json:"liveness_score" bson:"liveness_score"`
	Indicators types.Indicators  `json:"indicators" bson:"indicators"`
	Guidance   string            `json:"guidance_message" bson:"guidance_message"`
	Status     types.Status      `json:"status" bson:"status"`
	Pose       *types.PoseAngles `json:"pose,omitempty" bson:"pose,omitempty"`
	FaceFound  bool              `json:"face_detected" bson:"face_detected"`
	LoggedAt   time.Time         `json:"logged_at" bson:"logged_at"`
}

// CaptureLogEntry records one check-in capture attempt, successful or not.
type CaptureLogEntry struct {
	ID               string            `json:"id" bson:"_id"`
	UserID           string            `json:"user_id" bson:"user_id"`
	SessionID        string            `json:"session_id" bson:"session_id"`
	ClassID          string            `json:"class_id" bson:"class_id"`
	LivenessVerified bool              `json:"liveness_verified" bson:"liveness_verified"`
	LivenessScore    float64           `json:"liveness_score" bson:"liveness_score"`
	FrontalFaceValid bool              `json:"frontal_face_valid" bson:"frontal_face_valid"`
	Pose             *types.PoseAngles `json:"pose,omitempty" bson:"pose,omitempty"`
	CaptureSuccess   bool              `json:"capture_success" bson:"capture_success"`
	FailedStage      string            `json:"failed_stage,omitempty" bson:"failed_stage,omitempty"`
	ErrorType        string            `json:"error_type,omitempty" bson:"error_type,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty" bson:"error_message,omitempty"`
	LoggedAt         time.Time         `json:"logged_at" bson:"logged_at"`
}

// GPSAuditEntry records one out-of-range attempt for forensic review.
type GPSAuditEntry struct {
	ID             string    `json:"id" bson:"_id"`
	StudentID      string    `json:"student_id" bson:"student_id"`
	ClassID        string    `json:"class_id" bson:"class_id"`
	Latitude       float64   `json:"lat" bson:"lat"`
	Longitude      float64   `json:"lon" bson:"lon"`
	DistanceMeters float64   `json:"distance" bson:"distance"`
	AttemptNumber  int       `json:"attempt_number" bson:"attempt_number"`
	Blocked        bool      `json:"blocked" bson:"blocked"`
	FaceSimilarity float64   `json:"face_similarity" bson:"face_similarity"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
}

// Notification is a message pushed to an instructor.
type Notification struct {
	ID           string         `json:"id" bson:"_id"`
	InstructorID string         `json:"instructor_id" bson:"instructor_id"`
	Type         string         `json:"type" bson:"type"`
	ClassID      string         `json:"class_id" bson:"class_id"`
	StudentID    string         `json:"student_id" bson:"student_id"`
	Message      string         `json:"message" bson:"message"`
	Data         map[string]any `json:"data,omitempty" bson:"data,omitempty"`
	CreatedAt    time.Time      `json:"created_at" bson:"created_at"`
}

// Notification types.
const (
	NotificationAttendanceUpdate = "attendance_update"
	NotificationGPSInvalid       = "gps_invalid_attempt"
)
