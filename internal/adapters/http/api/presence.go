package api

import (
	"net/http"

	"github.com/okian/rentrank/internal/domain/types"
)

// PresenceHandler serves the presence record of a user.
type PresenceHandler struct {
	deps Dependencies
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(deps Dependencies) *PresenceHandler {
	return &PresenceHandler{deps: deps}
}

// HandleGetPresence handles GET /presence/{id} requests.
func (h *PresenceHandler) HandleGetPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	parts, ok := pathID(r, "/presence/")
	if !ok || len(parts) != 1 {
		writeError(w, NewKind("presence", ErrBadRequest), "")
		return
	}

	rec, err := h.deps.Presence(r.Context(), parts[0])
	if err != nil {
		writeError(w, err, "Failed to fetch presence")
		return
	}
	writeResponse(w, http.StatusOK, "Presence retrieved successfully", types.PresenceView{
		UserID:      parts[0],
		State:       string(rec.State),
		ForceLogout: rec.ForceLogout,
		Phase:       h.deps.PresencePhase(parts[0]).String(),
	})
}
