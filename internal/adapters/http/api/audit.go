package api

import (
	"net/http"

	"github.com/okian/presence/internal/domain/audit"
)

// handleLivenessLogs handles GET /v1/audit/{user_id}/liveness?limit=.
func (s *Server) handleLivenessLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultLogLimit, maxLogLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := s.deps.LivenessLogs(r.Context(), r.PathValue("user_id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

// handleCaptureLogs handles GET /v1/audit/{user_id}/captures?limit=.
func (s *Server) handleCaptureLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultLogLimit, maxLogLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := s.deps.CaptureLogs(r.Context(), r.PathValue("user_id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

// handleGPSLogs handles GET /v1/audit/{user_id}/gps?limit=.
func (s *Server) handleGPSLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultLogLimit, maxLogLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := s.deps.GPSLogs(r.Context(), r.PathValue("user_id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

// handleSuspicious handles GET /v1/audit/{user_id}/suspicious?threshold=.
func (s *Server) handleSuspicious(w http.ResponseWriter, r *http.Request) {
	threshold, err := intQuery(r, "threshold", audit.DefaultSuspiciousThreshold, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.deps.Suspicious(r.Context(), r.PathValue("user_id"), threshold)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
