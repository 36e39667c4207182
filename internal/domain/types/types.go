// Package types contains common types used across the application
package types

import "time"

// Response is the envelope of every API reply.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
	Code      int    `json:"code"`
}

// NewResponse builds an envelope stamped with now in unix milliseconds.
func NewResponse(code int, message string, data any, now time.Time) Response {
	return Response{
		Success:   code < 400,
		Message:   message,
		Data:      data,
		Timestamp: now.UnixMilli(),
		Code:      code,
	}
}

// SweepSummary reports one pass over the offline users.
type SweepSummary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"startedAt"`
}

// PresenceView is the API shape of a user's presence.
type PresenceView struct {
	UserID      string `json:"userId"`
	State       string `json:"state"`
	ForceLogout bool   `json:"forceLogout"`
	Phase       string `json:"phase,omitempty"`
}
