package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Request body limits.
const (
	maxFrameBodyBytes      = 8 << 20
	maxEnrollmentBodyBytes = 64 << 20
	maxEnrollmentFrames    = 60
	defaultLogLimit        = 100
	maxLogLimit            = 1000
)

type sessionResponse struct {
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

type probeRequest struct {
	SessionID  string  `json:"session_id" validate:"required"`
	Frame      string  `json:"frame" validate:"required"`
	FrameIndex int     `json:"frame_index" validate:"gte=0"`
	Timestamp  float64 `json:"timestamp" validate:"gte=0"`
}

type frameRequest struct {
	Frame string `json:"frame" validate:"required"`
}

type checkInRequest struct {
	ClassID   string   `json:"class_id" validate:"required"`
	SessionID string   `json:"session_id" validate:"required"`
	Latitude  *float64 `json:"lat" validate:"required,latitude"`
	Longitude *float64 `json:"lon" validate:"required,longitude"`
	Frame     string   `json:"frame" validate:"required"`
}

type enrollmentRequest struct {
	Frames []string `json:"frames" validate:"required,min=1,dive,required"`
}

// decode reads a JSON body of at most limit bytes into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", ErrBadRequest, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// caller returns the identity header or writes 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(UserHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, ErrMissingUser)
		return "", false
	}
	return id, true
}

// intQuery parses a non-negative integer query parameter.
func intQuery(r *http.Request, name string, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", errInvalidQuery, name, raw)
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, nil
}
