package api

import (
	"net/http"
	"time"

	"github.com/okian/presence/internal/domain/frontal"
	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/pipeline"
	"github.com/okian/presence/internal/domain/types"
)

type checkInResponse struct {
	Status      string               `json:"status"`
	CheckInTime string               `json:"check_in_time"`
	Validations model.Validations    `json:"validations"`
	Frontal     frontal.Report       `json:"frontal"`
	Liveness    types.LivenessResult `json:"liveness"`
}

// rejectionResponse is the body of a refused check-in. The location fields
// are present only for gps_invalid and gps_invalid_max_attempts.
type rejectionResponse struct {
	Status            string             `json:"status"`
	ErrorType         string             `json:"error_type"`
	Message           string             `json:"message"`
	Stage             string             `json:"stage"`
	Distance          *float64           `json:"distance,omitempty"`
	AttemptNumber     *int               `json:"attempt_number,omitempty"`
	RemainingAttempts *int               `json:"remaining_attempts,omitempty"`
	Validations       *model.Validations `json:"validations,omitempty"`
}

// handleCheckIn handles POST /v1/checkin. The caller is the student.
func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	studentID, ok := caller(w, r)
	if !ok {
		return
	}
	var req checkInRequest
	if err := s.decode(w, r, maxFrameBodyBytes, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.CheckIn(r.Context(), pipeline.Request{
		StudentID: studentID,
		ClassID:   req.ClassID,
		SessionID: req.SessionID,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Frame:     imaging.FromBase64(req.Frame),
	})
	if err != nil {
		if rej, ok := pipeline.AsRejection(err); ok {
			code := rej.Code()
			status := statusFor(code)
			if status >= http.StatusInternalServerError {
				s.logger.Error(r.Context(), "check-in failed", errorFields(r, err)...)
			}
			writeJSON(w, status, rejectionBody(rej, code))
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkInResponse{
		Status:      res.Status,
		CheckInTime: res.CheckInTime.Format(time.RFC3339),
		Validations: res.Validations,
		Frontal:     res.Frontal,
		Liveness:    res.Liveness,
	})
}

func rejectionBody(rej *pipeline.Rejection, code string) rejectionResponse {
	body := rejectionResponse{
		Status:    statusFailed,
		ErrorType: code,
		Message:   rej.Message,
		Stage:     rej.Stage,
	}
	if code == pipeline.CodeGPSInvalid || code == pipeline.CodeGPSInvalidMaxAttempts {
		distance, attempt, remaining := rej.Distance, rej.AttemptNumber, rej.Remaining
		body.Distance = &distance
		body.AttemptNumber = &attempt
		body.RemainingAttempts = &remaining
	}
	if rej.Validations != (model.Validations{}) {
		v := rej.Validations
		body.Validations = &v
	}
	return body
}
