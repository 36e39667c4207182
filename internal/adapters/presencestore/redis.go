package presencestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
	"github.com/okian/rentrank/pkg/metrics"
)

// Record hash fields.
const (
	fieldState       = "state"
	fieldForceLogout = "forceLogout"
)

// RedisStore keeps presence in Redis.
//
// Layout (all keys under the configured prefix):
//
//	status:{user}     hash {state, forceLogout}
//	state:{state}     set of user ids currently in that state
//	changes           pub/sub channel carrying JSON PresenceChange
//	conns             set of connection ids with a registered lease
//	lease:{conn}      string with TTL, refreshed by the connection keepalive
//	hooks:{conn}      hash user id -> JSON PresenceRecord
//	userconns:{user}  set of connection ids holding a hook for the user
type RedisStore struct {
	rdb      redis.UniversalClient
	prefix   string
	leaseTTL time.Duration
	logger   logger.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Reaper = (*RedisStore)(nil)
)

// NewRedisStore wraps an existing client. The caller keeps ownership of rdb.
func NewRedisStore(rdb redis.UniversalClient, opts ...Option) *RedisStore {
	cfg := newSettings(opts)
	return &RedisStore{
		rdb:      rdb,
		prefix:   cfg.keyPrefix,
		leaseTTL: cfg.leaseTTL,
		logger:   cfg.logger,
		subs:     make(map[*redis.PubSub]struct{}),
	}
}

func (s *RedisStore) statusKey(userID string) string { return s.prefix + "status:" + userID }
func (s *RedisStore) stateKey(state model.PresenceState) string { return s.prefix + "state:" + string(state) }
func (s *RedisStore) changesChannel() string { return s.prefix + "changes" }
func (s *RedisStore) connsKey() string { return s.prefix + "conns" }
func (s *RedisStore) leaseKey(connID string) string { return s.prefix + "lease:" + connID }
func (s *RedisStore) hooksKey(connID string) string { return s.prefix + "hooks:" + connID }
func (s *RedisStore) userConnsKey(userID string) string { return s.prefix + "userconns:" + userID }

func (s *RedisStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func otherState(state model.PresenceState) model.PresenceState {
	if state == model.StateOnline {
		return model.StateOffline
	}
	return model.StateOnline
}

// Set writes the record, moves the user between state sets and publishes the
// change in one MULTI/EXEC.
func (s *RedisStore) Set(ctx context.Context, userID string, rec model.PresenceRecord) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	if !rec.State.Valid() {
		return ErrInvalidState
	}
	if s.isClosed() {
		return ErrStoreClosed
	}
	payload, err := json.Marshal(model.PresenceChange{UserID: userID, Record: rec})
	if err != nil {
		return fmt.Errorf("encode presence change: %w", err)
	}
	force := "0"
	if rec.ForceLogout {
		force = "1"
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.statusKey(userID), fieldState, string(rec.State), fieldForceLogout, force)
		pipe.SRem(ctx, s.stateKey(otherState(rec.State)), userID)
		pipe.SAdd(ctx, s.stateKey(rec.State), userID)
		pipe.Publish(ctx, s.changesChannel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set presence %s: %w", userID, err)
	}
	return nil
}

// Get reads the record hash of userID.
func (s *RedisStore) Get(ctx context.Context, userID string) (model.PresenceRecord, error) {
	if s.isClosed() {
		return model.PresenceRecord{}, ErrStoreClosed
	}
	fields, err := s.rdb.HGetAll(ctx, s.statusKey(userID)).Result()
	if err != nil {
		return model.PresenceRecord{}, fmt.Errorf("redis get presence %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return model.PresenceRecord{}, model.ErrPresenceNotFound
	}
	return model.PresenceRecord{
		State:       model.PresenceState(fields[fieldState]),
		ForceLogout: fields[fieldForceLogout] == "1",
	}, nil
}

// Subscribe listens on the changes channel. The subscription is confirmed
// before Subscribe returns, so no later write is missed.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan model.PresenceChange, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	ps := s.rdb.Subscribe(ctx, s.changesChannel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s.mu.Lock()
	s.subs[ps] = struct{}{}
	s.mu.Unlock()

	f := newFeed(ctx)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.subs, ps)
			s.mu.Unlock()
			_ = ps.Close()
			f.stop()
		}()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change model.PresenceChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					s.logger.Warn(ctx, "dropping malformed presence change", logger.Error(err))
					continue
				}
				f.push(change)
			}
		}
	}()

	return f.out, nil
}

// QueryByState reads the state index set.
func (s *RedisStore) QueryByState(ctx context.Context, state model.PresenceState) ([]string, error) {
	if !state.Valid() {
		return nil, ErrInvalidState
	}
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	ids, err := s.rdb.SMembers(ctx, s.stateKey(state)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis query %s users: %w", state, err)
	}
	return ids, nil
}

// Connect registers a lease and starts its keepalive.
func (s *RedisStore) Connect(ctx context.Context) (Conn, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	id := uuid.NewString()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.leaseKey(id), "1", s.leaseTTL)
		pipe.SAdd(ctx, s.connsKey(), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	c := &redisConn{store: s, id: id, cancel: cancel, done: make(chan struct{})}
	go c.keepalive(kaCtx)
	return c, nil
}

// Reap fires the hooks of every connection whose lease has expired. A
// connection is claimed by removing it from the conns set, so concurrent
// reapers never fire the same hook twice.
func (s *RedisStore) Reap(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrStoreClosed
	}
	ids, err := s.rdb.SMembers(ctx, s.connsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list conns: %w", err)
	}

	fired := 0
	for _, connID := range ids {
		alive, err := s.leaseAlive(ctx, connID)
		if err != nil {
			return fired, err
		}
		if alive {
			continue
		}
		claimed, err := s.rdb.SRem(ctx, s.connsKey(), connID).Result()
		if err != nil {
			return fired, fmt.Errorf("redis claim conn %s: %w", connID, err)
		}
		if claimed == 0 {
			continue
		}
		n, err := s.fireHooks(ctx, connID)
		fired += n
		if err != nil {
			return fired, err
		}
	}
	return fired, nil
}

func (s *RedisStore) leaseAlive(ctx context.Context, connID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.leaseKey(connID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis lease %s: %w", connID, err)
	}
	return n == 1, nil
}

func (s *RedisStore) fireHooks(ctx context.Context, connID string) (int, error) {
	armed, err := s.rdb.HGetAll(ctx, s.hooksKey(connID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis read hooks %s: %w", connID, err)
	}
	if err := s.rdb.Del(ctx, s.hooksKey(connID)).Err(); err != nil {
		return 0, fmt.Errorf("redis drop hooks %s: %w", connID, err)
	}

	fired := 0
	for userID, raw := range armed {
		if err := s.rdb.SRem(ctx, s.userConnsKey(userID), connID).Err(); err != nil {
			return fired, fmt.Errorf("redis release hook %s: %w", userID, err)
		}
		others, err := s.rdb.SMembers(ctx, s.userConnsKey(userID)).Result()
		if err != nil {
			return fired, fmt.Errorf("redis list user conns %s: %w", userID, err)
		}
		shared := false
		for _, other := range others {
			alive, err := s.leaseAlive(ctx, other)
			if err != nil {
				return fired, err
			}
			if alive {
				shared = true
				break
			}
		}
		if shared {
			s.logger.Debug(ctx, "disconnect hook skipped, user has other connections",
				logger.String("user", userID), logger.String("conn", connID))
			continue
		}

		var rec model.PresenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn(ctx, "dropping malformed disconnect hook",
				logger.String("user", userID), logger.Error(err))
			continue
		}
		if err := s.Set(ctx, userID, rec); err != nil {
			return fired, err
		}
		metrics.RecordDisconnectHookFired()
		fired++
	}
	return fired, nil
}

// Close ends every subscription. The client itself is left open.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for ps := range s.subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type redisConn struct {
	store  *RedisStore
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func (c *redisConn) ID() string { return c.id }

func (c *redisConn) keepalive(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.store.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := c.store.rdb.Expire(ctx, c.store.leaseKey(c.id), c.store.leaseTTL).Result()
			if err != nil {
				if ctx.Err() == nil {
					c.store.logger.Warn(ctx, "lease keepalive failed", logger.String("conn", c.id), logger.Error(err))
				}
				continue
			}
			if !ok {
				c.store.logger.Warn(ctx, "lease expired before keepalive", logger.String("conn", c.id))
				return
			}
		}
	}
}

func (c *redisConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *redisConn) OnDisconnect(ctx context.Context, userID string, rec model.PresenceRecord) error {
	if !rec.State.Valid() {
		return ErrInvalidState
	}
	if c.isClosed() {
		return ErrConnClosed
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode disconnect hook: %w", err)
	}
	s := c.store
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hooksKey(c.id), userID, raw)
		pipe.SAdd(ctx, s.userConnsKey(userID), c.id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis arm hook %s: %w", userID, err)
	}
	return nil
}

func (c *redisConn) CancelOnDisconnect(ctx context.Context, userID string) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	s := c.store
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.hooksKey(c.id), userID)
		pipe.SRem(ctx, s.userConnsKey(userID), c.id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis cancel hook %s: %w", userID, err)
	}
	return nil
}

// Close stops the keepalive and removes the lease together with its hooks.
func (c *redisConn) Close(ctx context.Context) error {
	if !c.stop() {
		return nil
	}
	s := c.store
	users, err := s.rdb.HKeys(ctx, s.hooksKey(c.id)).Result()
	if err != nil {
		return fmt.Errorf("redis list hooks %s: %w", c.id, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, userID := range users {
			pipe.SRem(ctx, s.userConnsKey(userID), c.id)
		}
		pipe.Del(ctx, s.hooksKey(c.id), s.leaseKey(c.id))
		pipe.SRem(ctx, s.connsKey(), c.id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis close conn %s: %w", c.id, err)
	}
	return nil
}

// Abort stops the keepalive only. Hooks fire once the lease expires and a
// reaper runs.
func (c *redisConn) Abort() {
	c.stop()
}

func (c *redisConn) stop() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	<-c.done
	return true
}
