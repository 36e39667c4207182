package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/rentrank/internal/adapters/presencestore"
	"github.com/okian/rentrank/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(context.Context) (<-chan model.PresenceChange, error) {
	return nil, errors.New("store unavailable")
}

func TestListener(t *testing.T) {
	Convey("Given a central listener over an in-memory store", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store := presencestore.NewMemoryStore()
		defer store.Close()

		rec := &recorder{}
		l := NewListener(store, TransitionHandlerFunc(func(_ context.Context, tr Transition) {
			rec.emit(tr)
		}), WithGracePeriod(testGrace))
		So(l.Start(ctx), ShouldBeNil)

		Convey("Starting twice is rejected", func() {
			So(l.Start(ctx), ShouldEqual, ErrListenerStarted)
		})

		Convey("An online write becomes an online transition", func() {
			So(store.Set(ctx, "u1", model.Online()), ShouldBeNil)
			So(eventually(func() bool { return len(rec.transitions()) == 1 }), ShouldBeTrue)
			So(rec.transitions()[0].UserID, ShouldEqual, "u1")
			So(rec.transitions()[0].State, ShouldEqual, model.StateOnline)
			So(l.Tracked(), ShouldEqual, 1)
		})

		Convey("A tab refresh does not flicker", func() {
			So(store.Set(ctx, "u1", model.Online()), ShouldBeNil)
			So(store.Set(ctx, "u1", model.Offline()), ShouldBeNil)
			So(store.Set(ctx, "u1", model.Online()), ShouldBeNil)
			time.Sleep(testGrace * 3)
			So(rec.states(), ShouldResemble, []model.PresenceState{model.StateOnline})
			So(l.Phase("u1"), ShouldEqual, PhaseOnline)
		})

		Convey("A logout is reported at once", func() {
			So(store.Set(ctx, "u1", model.Online()), ShouldBeNil)
			So(store.Set(ctx, "u1", model.LoggedOut()), ShouldBeNil)
			So(eventually(func() bool { return len(rec.transitions()) == 2 }), ShouldBeTrue)
			So(rec.transitions()[1].Cause, ShouldEqual, CauseLogout)
		})

		Convey("Cancelling the context ends the listener", func() {
			cancel()
			select {
			case <-l.Done():
				So(true, ShouldBeTrue)
			case <-time.After(time.Second):
				So("listener still running", ShouldBeEmpty)
			}
		})
	})

	Convey("A subscription failure is returned from Start", t, func() {
		l := NewListener(failingSubscriber{}, TransitionHandlerFunc(func(context.Context, Transition) {}))
		err := l.Start(context.Background())
		So(err, ShouldNotBeNil)
		So(l.Phase("u1"), ShouldEqual, PhaseUnknown)
		So(l.Tracked(), ShouldEqual, 0)
	})
}
