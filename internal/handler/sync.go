package handler

import (
	"log/slog"
	"net/http"
)

// TriggerSync handles POST /api/sync: run a full cycle now and report the
// resulting status. The cycle itself queues its failures for retry, so a
// partially failed cycle still answers 200 with the failure visible in the
// status body.
func (s *Server) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !s.sync.Online() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: errorDetail{Code: "offline", Message: "no remote store configured"},
		})
		return
	}

	if err := s.sync.Sync(r.Context()); err != nil {
		// Already queued and categorized; the status body carries it.
		slog.WarnContext(r.Context(), "manual sync finished with errors", "error", err)
	}

	status, err := s.sync.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetSyncStatus handles GET /api/sync/status.
func (s *Server) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sync.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
