package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. A node is ready once it knows a leader.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	st := h.node.Status()
	if !st.Leader && st.LeaderID == "" {
		h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrServiceUnavailable.Code, "no cluster leader")
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":    "ready",
		"leader":    st.Leader,
		"leader_id": st.LeaderID,
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}
