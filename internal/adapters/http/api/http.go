// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/internal/domain/presence"
	"github.com/okian/rentrank/internal/domain/types"
	"github.com/okian/rentrank/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// UpdateProfile creates or merges a profile and rescores it.
	UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (model.Profile, error)
	Profile(ctx context.Context, userID string) (model.Profile, error)
	RecalculateUserScore(ctx context.Context, userID string) error

	Presence(ctx context.Context, userID string) (model.PresenceRecord, error)
	PresencePhase(userID string) presence.Phase

	RecalculateOfflineUsersScore(ctx context.Context) (types.SweepSummary, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	usersHandler    *UsersHandler
	presenceHandler *PresenceHandler
	sweepHandler    *SweepHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	log := logger.Get().Named("http")
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		usersHandler:    NewUsersHandler(deps, log),
		presenceHandler: NewPresenceHandler(deps),
		sweepHandler:    NewSweepHandler(deps, log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/users", MetricsMiddleware(s.usersHandler.HandleUpdate, "users"))
	mux.HandleFunc("/users/", MetricsMiddleware(s.usersHandler.HandleUser, "user"))
	mux.HandleFunc("/presence/", MetricsMiddleware(s.presenceHandler.HandleGetPresence, "presence"))
	mux.HandleFunc("/sweep", MetricsMiddleware(s.sweepHandler.HandleSweep, "sweep"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeResponse wraps data in the response envelope.
func writeResponse(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, types.NewResponse(status, message, data, time.Now()))
}

// writeError reports err with its mapped status. Server errors are replaced
// by fallback so store details do not leak to clients.
func writeError(w http.ResponseWriter, err error, fallback string) {
	status := statusFor(err)
	msg := fallback
	if status < http.StatusInternalServerError {
		msg = clientMessage(err)
	}
	writeResponse(w, status, msg, nil)
}

// clientMessage drops the op prefixes of a client error.
func clientMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	if msg == "" {
		return "Bad request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// pathID extracts the id segments after prefix, rejecting empty segments.
func pathID(r *http.Request, prefix string) ([]string, bool) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if rest == "" {
		return nil, false
	}
	parts := strings.Split(rest, "/")
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}
