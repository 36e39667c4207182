package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
	"github.com/okian/rentrank/pkg/metrics"
)

// Subscriber produces the presence change stream of all users.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan model.PresenceChange, error)
}

// TransitionHandler receives debounced transitions. Calls are made with the
// machine lock held and must return quickly.
type TransitionHandler interface {
	HandleTransition(ctx context.Context, t Transition)
}

// TransitionHandlerFunc adapts a function to TransitionHandler.
type TransitionHandlerFunc func(ctx context.Context, t Transition)

// HandleTransition calls f.
func (f TransitionHandlerFunc) HandleTransition(ctx context.Context, t Transition) { f(ctx, t) }

// Listener watches every user's record and turns raw changes into
// debounced transitions.
type Listener struct {
	store   Subscriber
	handler TransitionHandler
	opts    []Option
	logger  logger.Logger

	mu      sync.Mutex
	started bool
	machine *Machine
	done    chan struct{}
}

// NewListener creates a listener. Options are passed on to its Machine.
func NewListener(store Subscriber, handler TransitionHandler, opts ...Option) *Listener {
	o := newOptions("presence-listener", opts)
	return &Listener{
		store:   store,
		handler: handler,
		opts:    opts,
		logger:  o.logger,
		done:    make(chan struct{}),
	}
}

// Start subscribes and processes changes until ctx ends. It may be called
// once per listener.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrListenerStarted
	}

	changes, err := l.store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe presence changes: %w", err)
	}

	l.machine = NewMachine(func(t Transition) {
		l.logger.Info(ctx, "presence transition",
			logger.String("user", t.UserID),
			logger.String("state", string(t.State)),
			logger.String("cause", string(t.Cause)),
		)
		l.handler.HandleTransition(ctx, t)
	}, l.opts...)
	l.started = true

	go l.run(changes)
	l.logger.Info(ctx, "presence listener started")
	return nil
}

func (l *Listener) run(changes <-chan model.PresenceChange) {
	defer close(l.done)
	for change := range changes {
		metrics.RecordPresenceEvent(string(change.Record.State))
		l.machine.Observe(change)
	}
	l.machine.Stop()
}

// Done is closed once the change stream has ended.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Phase exposes the debounced phase of userID.
func (l *Listener) Phase(userID string) Phase {
	l.mu.Lock()
	m := l.machine
	l.mu.Unlock()
	if m == nil {
		return PhaseUnknown
	}
	return m.Phase(userID)
}

// Tracked returns the number of users seen by the listener.
func (l *Listener) Tracked() int {
	l.mu.Lock()
	m := l.machine
	l.mu.Unlock()
	if m == nil {
		return 0
	}
	return m.Tracked()
}
