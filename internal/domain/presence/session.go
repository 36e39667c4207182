package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/rentrank/internal/adapters/presencestore"
	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
	"github.com/okian/rentrank/pkg/metrics"
)

// SessionStore is the part of the presence store a client session uses.
type SessionStore interface {
	Set(ctx context.Context, userID string, rec model.PresenceRecord) error
	Subscribe(ctx context.Context) (<-chan model.PresenceChange, error)
	Connect(ctx context.Context) (presencestore.Conn, error)
}

// Session is the presence watcher of one client process. It remembers its
// user id across logout so the final offline write is attributed to the
// right user after local auth state is gone.
type Session struct {
	store  SessionStore
	grace  time.Duration
	logger logger.Logger

	mu            sync.Mutex
	conn          presencestore.Conn
	userID        string
	authenticated bool
	forceLogout   bool
	gen           uint64
	timer         *time.Timer
}

// NewSession creates a logged-out session over store.
func NewSession(store SessionStore, opts ...Option) *Session {
	o := newOptions("presence-session", opts)
	return &Session{
		store:  store,
		grace:  o.grace,
		logger: o.logger,
	}
}

// UserID returns the remembered user id, which survives Logout.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Authenticated reports whether a user is logged in locally.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Login authenticates userID locally and connects it.
func (s *Session) Login(ctx context.Context, userID string) error {
	s.mu.Lock()
	previous := s.userID
	conn := s.conn
	s.cancelTimerLocked()
	s.userID = userID
	s.authenticated = true
	s.forceLogout = false
	s.mu.Unlock()

	if conn != nil && previous != "" && previous != userID {
		if err := conn.CancelOnDisconnect(ctx, previous); err != nil {
			s.logger.Warn(ctx, "failed to disarm previous user's hook",
				logger.String("user", previous), logger.Error(err))
		}
	}
	return s.Connect(ctx)
}

// Connect arms the offline disconnect hook for the session's user and, once
// the store has confirmed it, writes the user online unless a logout was
// forced. A new store connection is opened when none is held.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	userID := s.userID
	conn := s.conn
	s.mu.Unlock()
	if userID == "" {
		return ErrNotLoggedIn
	}

	if conn == nil {
		var err error
		conn, err = s.store.Connect(ctx)
		if err != nil {
			return fmt.Errorf("connect presence store: %w", err)
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
	}

	if err := conn.OnDisconnect(ctx, userID, model.Offline()); err != nil {
		return fmt.Errorf("arm disconnect hook for %s: %w", userID, err)
	}

	s.mu.Lock()
	skip := s.forceLogout || !s.authenticated
	s.mu.Unlock()
	if skip {
		return nil
	}

	if err := s.store.Set(ctx, userID, model.Online()); err != nil {
		return fmt.Errorf("write online for %s: %w", userID, err)
	}
	s.logger.Debug(ctx, "session online", logger.String("user", userID), logger.String("conn", conn.ID()))
	return nil
}

// Observe applies a store change of the session's own record. The record's
// forceLogout replaces the remembered one. An offline record written while
// the user is still logged in starts or restarts the grace timer; an online
// record cancels it.
func (s *Session) Observe(ctx context.Context, rec model.PresenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forceLogout = rec.ForceLogout

	if rec.State == model.StateOnline {
		s.cancelTimerLocked()
		return
	}
	if !s.authenticated || s.forceLogout {
		s.cancelTimerLocked()
		return
	}

	s.cancelTimerLocked()
	gen := s.gen
	userID := s.userID
	s.timer = time.AfterFunc(s.grace, func() { s.revive(ctx, userID, gen) })
}

func (s *Session) cancelTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// revive re-asserts online after an uncorrected offline report.
func (s *Session) revive(ctx context.Context, userID string, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.authenticated || s.forceLogout || s.conn == nil || s.userID != userID {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	if err := s.store.Set(ctx, userID, model.Online()); err != nil {
		s.logger.Error(ctx, "auto-revival write failed", logger.String("user", userID), logger.Error(err))
		return
	}
	metrics.RecordAutoRevival()
	s.logger.Info(ctx, "presence re-asserted after grace period", logger.String("user", userID))
}

// Logout cancels the grace timer and the disconnect hook, flags the session
// forceLogout and writes the remembered user offline.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	userID := s.userID
	conn := s.conn
	s.cancelTimerLocked()
	s.authenticated = false
	s.forceLogout = true
	s.mu.Unlock()

	if userID == "" {
		return ErrNotLoggedIn
	}

	if conn != nil {
		if err := conn.CancelOnDisconnect(ctx, userID); err != nil {
			s.logger.Warn(ctx, "failed to disarm disconnect hook", logger.String("user", userID), logger.Error(err))
		}
	}
	if err := s.store.Set(ctx, userID, model.LoggedOut()); err != nil {
		return fmt.Errorf("write logout for %s: %w", userID, err)
	}
	s.logger.Debug(ctx, "session logged out", logger.String("user", userID))
	return nil
}

// Drop loses the store connection as a network failure would. Hooks armed on
// it fire; the session stays logged in and may Reconnect.
func (s *Session) Drop() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Abort()
	}
}

// Reconnect opens a fresh store connection and repeats Connect.
func (s *Session) Reconnect(ctx context.Context) error {
	s.Drop()
	return s.Connect(ctx)
}

// Run feeds the session's own record changes into Observe until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	changes, err := s.store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe presence: %w", err)
	}
	for change := range changes {
		if change.UserID != s.UserID() {
			continue
		}
		s.Observe(ctx, change.Record)
	}
	return ctx.Err()
}

// Close stops the timer and closes the store connection cleanly.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.cancelTimerLocked()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(ctx)
}
