package api

import (
	"errors"
	"net/http"

	"github.com/okian/presence/internal/adapters/notify"
	service "github.com/okian/presence/internal/app"
	"github.com/okian/presence/pkg/logger"
)

// handleInstructorSocket handles GET /v1/ws/instructors/{instructor_id}.
// Once the upgrade succeeded the connection belongs to the hub.
func (s *Server) handleInstructorSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("instructor_id")
	err := s.deps.ServeInstructor(w, r, id)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err)
	case errors.Is(err, notify.ErrMissingInstructor):
		writeError(w, http.StatusBadRequest, codeBadRequest, err)
	default:
		// The upgrader already answered the handshake.
		s.logger.Warn(r.Context(), "instructor socket", logger.String("instructor_id", id), logger.Error(err))
	}
}
