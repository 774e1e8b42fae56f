package api

import (
	"net/http"
	"time"

	service "github.com/okian/presence/internal/app"
	"github.com/okian/presence/internal/domain/imaging"
)

// handleCreateSession handles POST /v1/liveness/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	info, err := s.deps.CreateSession(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: info.SessionID,
		ExpiresAt: info.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleEndSession handles DELETE /v1/liveness/sessions/{id}.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := s.deps.EndSession(r.Context(), userID, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProbe handles POST /v1/liveness. A frame without a face is a 200
// with status no_face.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req probeRequest
	if err := s.decode(w, r, maxFrameBodyBytes, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Probe(r.Context(), service.ProbeInput{
		UserID:     userID,
		SessionID:  req.SessionID,
		Frame:      imaging.FromBase64(req.Frame),
		FrameIndex: req.FrameIndex,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleValidatePose handles POST /v1/pose/validate.
func (s *Server) handleValidatePose(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	var req frameRequest
	if err := s.decode(w, r, maxFrameBodyBytes, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.deps.ValidatePose(r.Context(), imaging.FromBase64(req.Frame))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
