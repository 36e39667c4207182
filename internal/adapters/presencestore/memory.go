package presencestore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
	"github.com/okian/rentrank/pkg/metrics"
)

// MemoryStore is a process-local Store. Aborted connections fire their hooks
// immediately.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]model.PresenceRecord
	feeds   map[*feed]struct{}
	hooks   map[string]map[string]model.PresenceRecord // conn id -> user id -> record
	live    map[string]struct{}
	closed  bool
	logger  logger.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory presence store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := newSettings(opts)
	return &MemoryStore{
		records: make(map[string]model.PresenceRecord),
		feeds:   make(map[*feed]struct{}),
		hooks:   make(map[string]map[string]model.PresenceRecord),
		live:    make(map[string]struct{}),
		logger:  cfg.logger,
	}
}

// Set stores rec and notifies subscribers.
func (s *MemoryStore) Set(ctx context.Context, userID string, rec model.PresenceRecord) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	if !rec.State.Valid() {
		return ErrInvalidState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.setLocked(userID, rec)
	return nil
}

// setLocked writes and publishes under s.mu so subscribers see writes in
// store order.
func (s *MemoryStore) setLocked(userID string, rec model.PresenceRecord) {
	s.records[userID] = rec
	change := model.PresenceChange{UserID: userID, Record: rec}
	for f := range s.feeds {
		f.push(change)
	}
}

// Get returns the current record of userID.
func (s *MemoryStore) Get(ctx context.Context, userID string) (model.PresenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.PresenceRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.PresenceRecord{}, ErrStoreClosed
	}
	rec, ok := s.records[userID]
	if !ok {
		return model.PresenceRecord{}, model.ErrPresenceNotFound
	}
	return rec, nil
}

// Subscribe registers a new change feed.
func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan model.PresenceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	f := newFeed(ctx)
	s.feeds[f] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-f.stopCh:
		}
		s.mu.Lock()
		delete(s.feeds, f)
		s.mu.Unlock()
		f.stop()
	}()

	return f.out, nil
}

// QueryByState returns matching user ids in lexical order.
func (s *MemoryStore) QueryByState(ctx context.Context, state model.PresenceState) ([]string, error) {
	if !state.Valid() {
		return nil, ErrInvalidState
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ids := make([]string, 0)
	for id, rec := range s.records {
		if rec.State == state {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Connect opens a new in-process connection.
func (s *MemoryStore) Connect(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	id := uuid.NewString()
	s.live[id] = struct{}{}
	return &memoryConn{store: s, id: id}, nil
}

// Close ends every subscription. Later calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for f := range s.feeds {
		f.stop()
	}
	return nil
}

// hookedElsewhere reports whether a live connection other than connID holds a
// hook for userID.
func (s *MemoryStore) hookedElsewhere(userID, connID string) bool {
	for id, hooks := range s.hooks {
		if id == connID {
			continue
		}
		if _, ok := hooks[userID]; ok {
			return true
		}
	}
	return false
}

type memoryConn struct {
	store *MemoryStore
	id    string
}

func (c *memoryConn) ID() string { return c.id }

func (c *memoryConn) OnDisconnect(ctx context.Context, userID string, rec model.PresenceRecord) error {
	if !rec.State.Valid() {
		return ErrInvalidState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[c.id]; !ok || s.closed {
		return ErrConnClosed
	}
	if s.hooks[c.id] == nil {
		s.hooks[c.id] = make(map[string]model.PresenceRecord)
	}
	s.hooks[c.id][userID] = rec
	return nil
}

func (c *memoryConn) CancelOnDisconnect(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[c.id]; !ok {
		return ErrConnClosed
	}
	delete(s.hooks[c.id], userID)
	return nil
}

func (c *memoryConn) Close(_ context.Context) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hooks, c.id)
	delete(s.live, c.id)
	return nil
}

func (c *memoryConn) Abort() {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[c.id]; !ok {
		return
	}
	armed := s.hooks[c.id]
	delete(s.hooks, c.id)
	delete(s.live, c.id)
	if s.closed {
		return
	}
	for userID, rec := range armed {
		if s.hookedElsewhere(userID, c.id) {
			s.logger.Debug(context.Background(), "disconnect hook skipped, user has other connections",
				logger.String("user", userID), logger.String("conn", c.id))
			continue
		}
		s.setLocked(userID, rec)
		metrics.RecordDisconnectHookFired()
	}
}
