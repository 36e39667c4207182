package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
)

// Response messages of the users endpoints.
const (
	msgUserIDRequired = "User ID is required"
	msgUserUpdated    = "User data updated successfully"
	msgUpdateFailed   = "Failed to update user data"
	msgUserFetched    = "User retrieved successfully"
	msgFetchFailed    = "Failed to fetch user"
	msgRecalculated   = "Score recalculated successfully"
	msgRecalcFailed   = "Failed to recalculate score"
)

// profileRequest mirrors the body of POST /users. Absent fields are left
// untouched on an existing profile.
type profileRequest struct {
	ID            string   `json:"id"`
	Name          *string  `json:"name"`
	Email         *string  `json:"email"`
	RatingAverage *float64 `json:"ratingAverage"`
	RentalCount   *int     `json:"rentalCount"`
}

func (p profileRequest) patch() model.ProfilePatch {
	return model.ProfilePatch{
		Name:          p.Name,
		Email:         p.Email,
		RatingAverage: p.RatingAverage,
		RentalCount:   p.RentalCount,
	}
}

// UsersHandler serves profile reads, writes and manual recalculation.
type UsersHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(deps Dependencies, log logger.Logger) *UsersHandler {
	return &UsersHandler{deps: deps, logger: log}
}

// HandleUpdate handles POST /users requests.
func (h *UsersHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req profileRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, WrapKind("decode profile", ErrBadRequest, err), msgUpdateFailed)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeResponse(w, http.StatusBadRequest, msgUserIDRequired, nil)
		return
	}

	profile, err := h.deps.UpdateProfile(r.Context(), req.ID, req.patch())
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			h.logger.Error(r.Context(), "profile update failed", logger.String("user", req.ID), logger.Error(err))
		}
		writeError(w, err, msgUpdateFailed)
		return
	}
	writeResponse(w, http.StatusOK, msgUserUpdated, profile)
}

// HandleUser handles GET /users/{id} and POST /users/{id}/recalculate.
func (h *UsersHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	parts, ok := pathID(r, "/users/")
	if !ok {
		writeResponse(w, http.StatusBadRequest, msgUserIDRequired, nil)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getProfile(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "recalculate" && r.Method == http.MethodPost:
		h.recalculate(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *UsersHandler) getProfile(w http.ResponseWriter, r *http.Request, userID string) {
	profile, err := h.deps.Profile(r.Context(), userID)
	if err != nil {
		writeError(w, err, msgFetchFailed)
		return
	}
	writeResponse(w, http.StatusOK, msgUserFetched, profile)
}

func (h *UsersHandler) recalculate(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.deps.RecalculateUserScore(r.Context(), userID); err != nil {
		h.logger.Error(r.Context(), "manual recalculation failed", logger.String("user", userID), logger.Error(err))
		writeError(w, err, msgRecalcFailed)
		return
	}

	profile, err := h.deps.Profile(r.Context(), userID)
	if err != nil {
		// Recalculating an unknown user is a no-op, not a failure.
		writeResponse(w, http.StatusOK, msgRecalculated, nil)
		return
	}
	writeResponse(w, http.StatusOK, msgRecalculated, profile)
}
