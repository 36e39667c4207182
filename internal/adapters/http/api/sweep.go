package api

import (
	"net/http"

	"github.com/okian/rentrank/pkg/logger"
)

// SweepHandler triggers the offline user sweep on demand.
type SweepHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewSweepHandler creates a new sweep handler.
func NewSweepHandler(deps Dependencies, log logger.Logger) *SweepHandler {
	return &SweepHandler{deps: deps, logger: log}
}

// HandleSweep handles POST /sweep requests. It blocks until the sweep ends.
func (h *SweepHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	summary, err := h.deps.RecalculateOfflineUsersScore(r.Context())
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			h.logger.Error(r.Context(), "on-demand sweep failed", logger.Error(err))
		}
		writeError(w, err, "Failed to recalculate offline users")
		return
	}
	writeResponse(w, http.StatusOK, "Offline users recalculated", summary)
}
