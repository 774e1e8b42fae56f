package api

import (
	"net/http"
	"time"
)

// StatsProvider reports service counters for GET /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves a snapshot of the provider's counters stamped with
// the time it was taken. A nil provider yields only the timestamp.
type StatsHandler struct {
	statsProvider StatsProvider
	now           func() time.Time
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider, now: time.Now}
}

// HandleStats handles GET /stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	out := map[string]interface{}{}
	if h.statsProvider != nil {
		for k, v := range h.statsProvider.GetStats() {
			out[k] = v
		}
	}
	out["taken_at"] = h.now().UTC().Format(time.RFC3339)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, out)
}
