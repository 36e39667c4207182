// Package presence implements the presence protocol: a debounced per-user
// state machine for the central listener and a client session that keeps its
// user's record online across short network losses.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
	"github.com/okian/rentrank/pkg/metrics"
)

// Phase is the per-user position in the state machine.
type Phase int

// Phases.
const (
	PhaseUnknown Phase = iota
	PhaseOnline
	PhasePending
	PhaseOffline
)

func (p Phase) String() string {
	switch p {
	case PhaseOnline:
		return "online"
	case PhasePending:
		return "pending"
	case PhaseOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Cause explains an emitted transition.
type Cause string

// Transition causes.
const (
	CauseConnected    Cause = "connected"
	CauseGraceExpired Cause = "grace_expired"
	CauseLogout       Cause = "logout"
)

// Transition is an externally visible presence change.
type Transition struct {
	UserID string
	State  model.PresenceState
	Cause  Cause
	At     time.Time
}

type userState struct {
	phase Phase
	gen   uint64
	timer *time.Timer
}

// Machine debounces raw presence changes per user. An offline report becomes
// a transition only after the grace period passes without a reconnection;
// a forced logout is emitted at once.
//
// emit is called with the machine lock held, so transitions of one user are
// delivered in order. It must not block or call back into the machine.
type Machine struct {
	mu      sync.Mutex
	users   map[string]*userState
	emit    func(Transition)
	stopped bool

	grace  time.Duration
	now    func() time.Time
	logger logger.Logger
}

// NewMachine creates a machine that reports transitions to emit.
func NewMachine(emit func(Transition), opts ...Option) *Machine {
	o := newOptions("presence-machine", opts)
	return &Machine{
		users:  make(map[string]*userState),
		emit:   emit,
		grace:  o.grace,
		now:    o.now,
		logger: o.logger,
	}
}

// Observe feeds one store change into the machine.
func (m *Machine) Observe(change model.PresenceChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	st, ok := m.users[change.UserID]
	if !ok {
		st = &userState{}
		m.users[change.UserID] = st
		metrics.UpdateTrackedUsers(len(m.users))
	}

	rec := change.Record
	switch {
	case rec.State == model.StateOnline:
		m.onlineLocked(change.UserID, st)
	case rec.ForceLogout:
		m.cancelLocked(st)
		if st.phase != PhaseOffline {
			st.phase = PhaseOffline
			m.emitLocked(change.UserID, model.StateOffline, CauseLogout)
		}
	default:
		m.offlineLocked(change.UserID, st)
	}
}

func (m *Machine) onlineLocked(userID string, st *userState) {
	switch st.phase {
	case PhasePending:
		m.cancelLocked(st)
		st.phase = PhaseOnline
		metrics.RecordFlickerSuppressed()
		m.logger.Debug(context.Background(), "reconnected within grace period", logger.String("user", userID))
	case PhaseOnline:
	default:
		st.phase = PhaseOnline
		m.emitLocked(userID, model.StateOnline, CauseConnected)
	}
}

func (m *Machine) offlineLocked(userID string, st *userState) {
	if st.phase == PhaseOffline {
		return
	}
	m.cancelLocked(st)
	st.phase = PhasePending
	gen := st.gen
	st.timer = time.AfterFunc(m.grace, func() { m.expire(userID, gen) })
}

// cancelLocked stops a pending timer and invalidates any expiry already in
// flight.
func (m *Machine) cancelLocked(st *userState) {
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (m *Machine) expire(userID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	st, ok := m.users[userID]
	if !ok || st.gen != gen || st.phase != PhasePending {
		return
	}
	st.timer = nil
	st.phase = PhaseOffline
	m.emitLocked(userID, model.StateOffline, CauseGraceExpired)
}

func (m *Machine) emitLocked(userID string, state model.PresenceState, cause Cause) {
	metrics.RecordPresenceTransition(string(state), string(cause))
	if m.emit != nil {
		m.emit(Transition{UserID: userID, State: state, Cause: cause, At: m.now()})
	}
}

// Phase returns the current phase of userID.
func (m *Machine) Phase(userID string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.users[userID]; ok {
		return st.phase
	}
	return PhaseUnknown
}

// Tracked returns how many users the machine has seen.
func (m *Machine) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// Stop cancels every pending timer. Later observations are ignored.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for _, st := range m.users {
		m.cancelLocked(st)
	}
}
