package presencestore

import (
	"context"
	"sync"

	"github.com/okian/rentrank/internal/domain/model"
)

// feed turns pushes into an unbounded, ordered channel for one subscriber.
// push never blocks; a slow reader only grows the backlog.
type feed struct {
	mu      sync.Mutex
	backlog []model.PresenceChange
	signal  chan struct{}
	out     chan model.PresenceChange
	stopCh  chan struct{}
	once    sync.Once
}

func newFeed(ctx context.Context) *feed {
	f := &feed{
		signal: make(chan struct{}, 1),
		out:    make(chan model.PresenceChange),
		stopCh: make(chan struct{}),
	}
	go f.run(ctx)
	return f
}

func (f *feed) push(c model.PresenceChange) {
	f.mu.Lock()
	f.backlog = append(f.backlog, c)
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *feed) stop() {
	f.once.Do(func() { close(f.stopCh) })
}

func (f *feed) run(ctx context.Context) {
	defer close(f.out)
	for {
		f.mu.Lock()
		if len(f.backlog) == 0 {
			f.mu.Unlock()
			select {
			case <-f.signal:
				continue
			case <-f.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
		next := f.backlog[0]
		f.backlog[0] = model.PresenceChange{}
		f.backlog = f.backlog[1:]
		f.mu.Unlock()

		select {
		case f.out <- next:
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
