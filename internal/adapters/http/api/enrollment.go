package api

import (
	"fmt"
	"net/http"

	"github.com/okian/presence/internal/domain/enrollment"
	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/pipeline"
)

type enrollmentResponse struct {
	Status string `json:"status"`
	enrollment.Summary
}

type enrollmentRejection struct {
	errorResponse
	enrollment.Summary
}

// handleEnroll handles POST /v1/enrollment for the caller.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req enrollmentRequest
	if err := s.decode(w, r, maxEnrollmentBodyBytes, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Frames) > maxEnrollmentFrames {
		s.fail(w, r, fmt.Errorf("%w: %d, at most %d", ErrTooManyFrames, len(req.Frames), maxEnrollmentFrames))
		return
	}
	// Frames are decoded per frame on the worker pool; an unreadable one is
	// discarded there rather than failing the batch.
	frames := make([]imaging.Source, len(req.Frames))
	for i, raw := range req.Frames {
		frames[i] = imaging.FromBase64(raw)
	}

	res, err := s.deps.Enroll(r.Context(), userID, frames)
	if err != nil {
		status, code := classify(err)
		if code == pipeline.CodeInternal || status >= http.StatusInternalServerError {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, status, enrollmentRejection{
			errorResponse: errorResponse{Status: statusFailed, ErrorType: code, Message: err.Error()},
			Summary:       res.Summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, enrollmentResponse{Status: res.Status, Summary: res.Summary})
}
