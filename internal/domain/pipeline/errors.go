package pipeline

import (
	"errors"
	"fmt"

	"github.com/okian/presence/internal/domain/audit"
	"github.com/okian/presence/internal/domain/embedding"
	"github.com/okian/presence/internal/domain/enrollment"
	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/liveness"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/pose"
)

// Rejection kinds. Errors owned by other packages are re-exported so callers
// can match every verification outcome against this package alone.
var (
	ErrNoFaceDetected         = errors.New("no face detected")
	ErrLowImageQuality        = errors.New("low image quality")
	ErrLivenessBelowThreshold = errors.New("liveness below threshold")
	ErrDeepfakeSuspected      = errors.New("deepfake suspected")
	ErrGPSOutOfRange          = errors.New("location outside the authorized area")
	ErrGPSMaxAttemptsReached  = errors.New("maximum invalid location attempts reached")
	ErrEmbeddingMismatch      = errors.New("face does not match enrollment")
	ErrAlreadyCheckedInToday  = errors.New("already checked in today")
	ErrNotEnrolled            = errors.New("face not enrolled")

	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("pipeline: missing dependency")

	ErrPoseSolveFailure                    = pose.ErrSolveFailure
	ErrEmbeddingFailure                    = embedding.ErrEmbeddingFailure
	ErrEnrollmentTooFewImages              = enrollment.ErrTooFewImages
	ErrEnrollmentInsufficientFrames        = enrollment.ErrInsufficientFrames
	ErrEnrollmentInsufficientPoseDiversity = enrollment.ErrInsufficientPoseDiversity
	ErrSessionNotFound                     = liveness.ErrSessionNotFound
	ErrPersistenceDegraded                 = audit.ErrPersistenceDegraded
	ErrInvalidFrame                        = imaging.ErrInvalidFrame
	ErrEmptyFrame                          = imaging.ErrEmptyFrame
)

// Wire error types.
const (
	CodeNoFace                = "no_face"
	CodeLowImageQuality       = "low_image_quality"
	CodeInvalidFrame          = "invalid_frame"
	CodePoseFailure           = "pose_failure"
	CodeLivenessFailed        = "liveness_failed"
	CodeDeepfakeSuspected     = "deepfake_suspected"
	CodeFaceMismatch          = "face_mismatch"
	CodeEmbeddingFailed       = "embedding_failed"
	CodeGPSInvalid            = "gps_invalid"
	CodeGPSInvalidMaxAttempts = "gps_invalid_max_attempts"
	CodeAlreadyCheckedIn      = "already_checked_in"
	CodeNotEnrolled           = "not_enrolled"
	CodeSessionNotFound       = "session_not_found"
	CodeTooFewImages          = "too_few_images"
	CodeInsufficientFrames    = "insufficient_frames"
	CodeInsufficientDiversity = "insufficient_pose_diversity"
	CodeInternal              = "internal_error"
)

var codes = []struct {
	kind error
	code string
}{
	{ErrNoFaceDetected, CodeNoFace},
	{ErrLowImageQuality, CodeLowImageQuality},
	{ErrInvalidFrame, CodeInvalidFrame},
	{ErrEmptyFrame, CodeInvalidFrame},
	{ErrPoseSolveFailure, CodePoseFailure},
	{ErrLivenessBelowThreshold, CodeLivenessFailed},
	{ErrDeepfakeSuspected, CodeDeepfakeSuspected},
	{ErrEmbeddingMismatch, CodeFaceMismatch},
	{ErrEmbeddingFailure, CodeEmbeddingFailed},
	{ErrGPSMaxAttemptsReached, CodeGPSInvalidMaxAttempts},
	{ErrGPSOutOfRange, CodeGPSInvalid},
	{ErrAlreadyCheckedInToday, CodeAlreadyCheckedIn},
	{ErrNotEnrolled, CodeNotEnrolled},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrEnrollmentTooFewImages, CodeTooFewImages},
	{ErrEnrollmentInsufficientFrames, CodeInsufficientFrames},
	{ErrEnrollmentInsufficientPoseDiversity, CodeInsufficientDiversity},
}

// Code maps an error to its wire error type. Unknown errors map to
// CodeInternal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return CodeInternal
}

// Rejection is a check-in that stopped at some stage. It unwraps to its kind.
type Rejection struct {
	Stage   string
	Kind    error
	Message string

	// Location details, set for gps_invalid and gps_invalid_max_attempts.
	Distance      float64
	AttemptNumber int
	Remaining     int

	// Validations holds every stage result gathered before the stop.
	Validations model.Validations
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Stage, r.Message)
}

func (r *Rejection) Unwrap() error { return r.Kind }

// Code returns the wire error type of the rejection.
func (r *Rejection) Code() string { return Code(r.Kind) }

func reject(stage string, kind error, msg string) *Rejection {
	return &Rejection{Stage: stage, Kind: kind, Message: msg}
}

// AsRejection unwraps err to a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
