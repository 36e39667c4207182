package presencestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
	"github.com/okian/rentrank/pkg/metrics"
)

// JetStream KV buckets used by the NATS store.
const (
	BucketPresence = "PRESENCE"
	BucketHooks    = "PRESENCE_HOOKS"
	BucketConns    = "PRESENCE_CONN"
)

// KV keys may not contain dots in a user id, since hook keys are "{user}.{conn}".
var natsUserIDPattern = regexp.MustCompile(`^[-_=a-zA-Z0-9]+$`) //nolint:gochecknoglobals // compiled once

// NATSStore keeps presence in JetStream key-value buckets.
//
//	PRESENCE        {user} -> JSON PresenceRecord
//	PRESENCE_HOOKS  {user}.{conn} -> JSON PresenceRecord
//	PRESENCE_CONN   {conn} -> lease, bucket TTL = lease TTL
type NATSStore struct {
	nc       *nats.Conn
	status   nats.KeyValue
	hooks    nats.KeyValue
	conns    nats.KeyValue
	leaseTTL time.Duration
	logger   logger.Logger
	ownsConn bool

	mu       sync.Mutex
	watchers map[nats.KeyWatcher]struct{}
	closed   bool
}

var (
	_ Store  = (*NATSStore)(nil)
	_ Reaper = (*NATSStore)(nil)
)

// DialNATS connects to url and opens a NATSStore that owns the connection.
func DialNATS(url, user, pass string, opts ...Option) (*NATSStore, error) {
	natsOpts := []nats.Option{nats.Name("rentrank-presence")}
	if user != "" {
		natsOpts = append(natsOpts, nats.UserInfo(user, pass))
	}
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	s, err := NewNATSStore(nc, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.ownsConn = true
	return s, nil
}

// NewNATSStore binds or creates the presence buckets on nc.
func NewNATSStore(nc *nats.Conn, opts ...Option) (*NATSStore, error) {
	cfg := newSettings(opts)
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	status, err := bindBucket(js, &nats.KeyValueConfig{Bucket: BucketPresence, History: 1})
	if err != nil {
		return nil, err
	}
	hooks, err := bindBucket(js, &nats.KeyValueConfig{Bucket: BucketHooks, History: 1})
	if err != nil {
		return nil, err
	}
	conns, err := bindBucket(js, &nats.KeyValueConfig{Bucket: BucketConns, History: 1, TTL: cfg.leaseTTL})
	if err != nil {
		return nil, err
	}

	return &NATSStore{
		nc:       nc,
		status:   status,
		hooks:    hooks,
		conns:    conns,
		leaseTTL: cfg.leaseTTL,
		logger:   cfg.logger,
		watchers: make(map[nats.KeyWatcher]struct{}),
	}, nil
}

func bindBucket(js nats.JetStreamContext, cfg *nats.KeyValueConfig) (nats.KeyValue, error) {
	kv, err := js.KeyValue(cfg.Bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, fmt.Errorf("bind bucket %s: %w", cfg.Bucket, err)
	}
	kv, err = js.CreateKeyValue(cfg)
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
	}
	return kv, nil
}

func validNATSUserID(userID string) error {
	if !natsUserIDPattern.MatchString(userID) {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}

func hookKey(userID, connID string) string { return userID + "." + connID }

func splitHookKey(key string) (userID, connID string, ok bool) {
	return strings.Cut(key, ".")
}

func (s *NATSStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Set puts the record under the user key.
func (s *NATSStore) Set(_ context.Context, userID string, rec model.PresenceRecord) error {
	if err := validNATSUserID(userID); err != nil {
		return err
	}
	if !rec.State.Valid() {
		return ErrInvalidState
	}
	if s.isClosed() {
		return ErrStoreClosed
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode presence record: %w", err)
	}
	if _, err := s.status.Put(userID, raw); err != nil {
		return fmt.Errorf("nats set presence %s: %w", userID, err)
	}
	return nil
}

// Get reads the record of userID.
func (s *NATSStore) Get(_ context.Context, userID string) (model.PresenceRecord, error) {
	if err := validNATSUserID(userID); err != nil {
		return model.PresenceRecord{}, err
	}
	if s.isClosed() {
		return model.PresenceRecord{}, ErrStoreClosed
	}
	entry, err := s.status.Get(userID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return model.PresenceRecord{}, model.ErrPresenceNotFound
	}
	if err != nil {
		return model.PresenceRecord{}, fmt.Errorf("nats get presence %s: %w", userID, err)
	}
	var rec model.PresenceRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return model.PresenceRecord{}, fmt.Errorf("decode presence %s: %w", userID, err)
	}
	return rec, nil
}

// Subscribe watches the PRESENCE bucket for new puts.
func (s *NATSStore) Subscribe(ctx context.Context) (<-chan model.PresenceChange, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	watcher, err := s.status.WatchAll(nats.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("nats watch presence: %w", err)
	}

	s.mu.Lock()
	s.watchers[watcher] = struct{}{}
	s.mu.Unlock()

	f := newFeed(ctx)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.watchers, watcher)
			s.mu.Unlock()
			_ = watcher.Stop()
			f.stop()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil || entry.Operation() != nats.KeyValuePut {
					continue
				}
				var rec model.PresenceRecord
				if err := json.Unmarshal(entry.Value(), &rec); err != nil {
					s.logger.Warn(ctx, "dropping malformed presence entry",
						logger.String("key", entry.Key()), logger.Error(err))
					continue
				}
				f.push(model.PresenceChange{UserID: entry.Key(), Record: rec})
			}
		}
	}()

	return f.out, nil
}

// QueryByState scans the PRESENCE bucket.
func (s *NATSStore) QueryByState(ctx context.Context, state model.PresenceState) ([]string, error) {
	if !state.Valid() {
		return nil, ErrInvalidState
	}
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	keys, err := s.status.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nats list presence keys: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.Get(ctx, key)
		if errors.Is(err, model.ErrPresenceNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.State == state {
			ids = append(ids, key)
		}
	}
	return ids, nil
}

// Connect puts a lease in the TTL bucket and starts its keepalive.
func (s *NATSStore) Connect(_ context.Context) (Conn, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := s.conns.Put(id, []byte(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	kaCtx, cancel := context.WithCancel(context.Background())
	c := &natsConn{
		store:  s,
		id:     id,
		users:  make(map[string]struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.keepalive(kaCtx)
	return c, nil
}

// Reap fires the hooks whose connection lease has expired. Each hook entry is
// claimed with a revision-checked delete so only one reaper fires it.
func (s *NATSStore) Reap(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrStoreClosed
	}
	keys, err := s.hooks.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("nats list hooks: %w", err)
	}

	alive := make(map[string]bool)
	leaseAlive := func(connID string) (bool, error) {
		if v, ok := alive[connID]; ok {
			return v, nil
		}
		_, err := s.conns.Get(connID)
		switch {
		case err == nil:
			alive[connID] = true
		case errors.Is(err, nats.ErrKeyNotFound):
			alive[connID] = false
		default:
			return false, fmt.Errorf("nats lease %s: %w", connID, err)
		}
		return alive[connID], nil
	}

	byUser := make(map[string][]string)
	for _, key := range keys {
		userID, connID, ok := splitHookKey(key)
		if !ok {
			continue
		}
		byUser[userID] = append(byUser[userID], connID)
	}

	fired := 0
	for userID, connIDs := range byUser {
		var dead []string
		shared := false
		for _, connID := range connIDs {
			ok, err := leaseAlive(connID)
			if err != nil {
				return fired, err
			}
			if ok {
				shared = true
			} else {
				dead = append(dead, connID)
			}
		}

		for _, connID := range dead {
			rec, claimed, err := s.claimHook(ctx, userID, connID)
			if err != nil {
				return fired, err
			}
			if !claimed || shared {
				continue
			}
			if err := s.Set(ctx, userID, rec); err != nil {
				return fired, err
			}
			metrics.RecordDisconnectHookFired()
			fired++
			// One write per user is enough; remaining dead hooks are only cleared.
			shared = true
		}
	}
	return fired, nil
}

func (s *NATSStore) claimHook(ctx context.Context, userID, connID string) (model.PresenceRecord, bool, error) {
	key := hookKey(userID, connID)
	entry, err := s.hooks.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return model.PresenceRecord{}, false, nil
	}
	if err != nil {
		return model.PresenceRecord{}, false, fmt.Errorf("nats read hook %s: %w", key, err)
	}
	if err := s.hooks.Delete(key, nats.LastRevision(entry.Revision())); err != nil {
		s.logger.Debug(ctx, "hook claimed by another reaper", logger.String("key", key))
		return model.PresenceRecord{}, false, nil
	}
	var rec model.PresenceRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		s.logger.Warn(ctx, "dropping malformed disconnect hook", logger.String("key", key), logger.Error(err))
		return model.PresenceRecord{}, false, nil
	}
	return rec, true, nil
}

// Close stops all watchers and, when the store dialled it, the connection.
func (s *NATSStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var errs []error
	for w := range s.watchers {
		if err := w.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()

	if s.ownsConn {
		s.nc.Close()
	}
	return errors.Join(errs...)
}

type natsConn struct {
	store  *NATSStore
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	users  map[string]struct{}
	closed bool
}

func (c *natsConn) ID() string { return c.id }

func (c *natsConn) keepalive(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.store.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.store.conns.Put(c.id, []byte(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
				c.store.logger.Warn(ctx, "lease keepalive failed", logger.String("conn", c.id), logger.Error(err))
			}
		}
	}
}

func (c *natsConn) OnDisconnect(_ context.Context, userID string, rec model.PresenceRecord) error {
	if err := validNATSUserID(userID); err != nil {
		return err
	}
	if !rec.State.Valid() {
		return ErrInvalidState
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode disconnect hook: %w", err)
	}
	if _, err := c.store.hooks.Put(hookKey(userID, c.id), raw); err != nil {
		return fmt.Errorf("nats arm hook %s: %w", userID, err)
	}
	c.users[userID] = struct{}{}
	return nil
}

func (c *natsConn) CancelOnDisconnect(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if _, ok := c.users[userID]; !ok {
		return nil
	}
	if err := c.store.hooks.Delete(hookKey(userID, c.id)); err != nil {
		return fmt.Errorf("nats cancel hook %s: %w", userID, err)
	}
	delete(c.users, userID)
	return nil
}

// Close deletes the lease and the hooks armed on this connection.
func (c *natsConn) Close(_ context.Context) error {
	users, ok := c.stop()
	if !ok {
		return nil
	}
	var errs []error
	for userID := range users {
		if err := c.store.hooks.Delete(hookKey(userID, c.id)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.store.conns.Delete(c.id); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Abort stops the keepalive. Hooks fire after the bucket TTL drops the lease.
func (c *natsConn) Abort() {
	c.stop()
}

func (c *natsConn) stop() (map[string]struct{}, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	c.closed = true
	users := c.users
	c.users = make(map[string]struct{})
	c.mu.Unlock()
	c.cancel()
	<-c.done
	return users, true
}
