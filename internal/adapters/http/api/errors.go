package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/presence/internal/adapters/detector"
	"github.com/okian/presence/internal/adapters/mq/queue"
	service "github.com/okian/presence/internal/app"
	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/pipeline"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrMissingUser   = errors.New("missing " + UserHeader + " header")
	ErrTooManyFrames = errors.New("too many frames")
	ErrRateLimited   = errors.New("too many requests")
	errInvalidQuery  = errors.New("invalid query parameter")
)

// Wire error types that are not verification outcomes.
const (
	codeBadRequest   = "bad_request"
	codeInvalidFrame = "invalid_frame"
	codeUnauthorized = "unauthorized"
	codeRateLimited  = "rate_limited"
	codeBackpressure = "backpressure"
	codeUnavailable  = "unavailable"
	codeTimeout      = "timeout"
	codeTooLarge     = "request_too_large"

	statusFailed = "failed"
)

// statusFor maps a wire error type to its HTTP status.
func statusFor(code string) int {
	switch code {
	case pipeline.CodeGPSInvalid, pipeline.CodeGPSInvalidMaxAttempts,
		pipeline.CodeLivenessFailed, pipeline.CodeDeepfakeSuspected, pipeline.CodeFaceMismatch:
		return http.StatusForbidden
	case pipeline.CodeNoFace, pipeline.CodeLowImageQuality, pipeline.CodePoseFailure,
		pipeline.CodeEmbeddingFailed, pipeline.CodeInsufficientFrames, pipeline.CodeInsufficientDiversity:
		return http.StatusUnprocessableEntity
	case pipeline.CodeAlreadyCheckedIn:
		return http.StatusConflict
	case pipeline.CodeNotEnrolled, pipeline.CodeSessionNotFound:
		return http.StatusNotFound
	case pipeline.CodeTooFewImages, pipeline.CodeInvalidFrame:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// classify turns an operation error into a status and wire error type.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, ErrTooManyFrames):
		return http.StatusRequestEntityTooLarge, codeTooLarge
	case errors.Is(err, ErrBadRequest), errors.Is(err, errInvalidQuery):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, imaging.ErrEmptyFrame), errors.Is(err, imaging.ErrInvalidFrame):
		return http.StatusBadRequest, codeInvalidFrame
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests, codeBackpressure
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, queue.ErrClosed),
		errors.Is(err, detector.ErrNotConfigured):
		return http.StatusServiceUnavailable, codeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	}
	code := pipeline.Code(err)
	return statusFor(code), code
}

// fail writes err with the status classify picks. Server faults hide their
// detail from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", errorFields(r, err)...)
		if code == pipeline.CodeInternal {
			err = nil
		}
	}
	writeError(w, status, code, err)
}
