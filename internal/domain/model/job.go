package model

import "time"

// JobKind selects what a worker does for a user.
type JobKind string

// Job kinds.
const (
	// JobRecalculate recomputes and stores the composite score.
	JobRecalculate JobKind = "recalculate"
	// JobTouch stamps lastActiveAt without recomputing the score.
	JobTouch JobKind = "touch"
)

// Trigger records why a recalculation happened.
type Trigger string

// Recalculation triggers.
const (
	TriggerOnline        Trigger = "online"
	TriggerOffline       Trigger = "offline"
	TriggerProfileUpdate Trigger = "profile_update"
	TriggerSweep         Trigger = "sweep"
	TriggerManual        Trigger = "manual"
)

// Job is the unit of work flowing through the queue to the workers.
type Job struct {
	UserID     string
	Kind       JobKind
	Trigger    Trigger
	EnqueuedAt time.Time
}

// Key identifies jobs that may be coalesced.
func (j Job) Key() string {
	return string(j.Kind) + ":" + j.UserID
}
