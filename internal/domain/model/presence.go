// Package model contains domain models passed between layers.
package model

// PresenceState is the externally visible connection state of a user.
type PresenceState string

// Presence states stored in the realtime store.
const (
	StateOnline  PresenceState = "online"
	StateOffline PresenceState = "offline"
)

// Valid reports whether s is one of the known presence states.
func (s PresenceState) Valid() bool {
	return s == StateOnline || s == StateOffline
}

// PresenceRecord is the value stored per user in the presence store.
// Writes replace the whole record; there are no merge semantics.
type PresenceRecord struct {
	State       PresenceState `json:"state"`
	ForceLogout bool          `json:"forceLogout,omitempty"`
}

// Online returns the record written when a client connects.
func Online() PresenceRecord { return PresenceRecord{State: StateOnline} }

// Offline returns the record armed as a disconnect hook.
func Offline() PresenceRecord { return PresenceRecord{State: StateOffline} }

// LoggedOut returns the record written on an intentional logout.
func LoggedOut() PresenceRecord { return PresenceRecord{State: StateOffline, ForceLogout: true} }

// PresenceChange is one element of a presence subscription.
type PresenceChange struct {
	UserID string         `json:"userId"`
	Record PresenceRecord `json:"record"`
}
