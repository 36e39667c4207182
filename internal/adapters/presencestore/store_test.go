package presencestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// harness binds the contract to one backend. drop simulates a lost
// connection and runs whatever the backend needs for hooks to fire.
type harness struct {
	store Store
	drop  func(Conn)
}

func receive(ch <-chan model.PresenceChange) (model.PresenceChange, bool) {
	select {
	case c, ok := <-ch:
		return c, ok
	case <-time.After(2 * time.Second):
		return model.PresenceChange{}, false
	}
}

func storeContract(newHarness func() harness) {
	ctx := context.Background()

	Convey("Get on an unknown user returns ErrPresenceNotFound", func() {
		h := newHarness()
		defer h.store.Close()
		_, err := h.store.Get(ctx, "nobody")
		So(err, ShouldEqual, model.ErrPresenceNotFound)
	})

	Convey("Set replaces the whole record", func() {
		h := newHarness()
		defer h.store.Close()
		So(h.store.Set(ctx, "u1", model.LoggedOut()), ShouldBeNil)
		So(h.store.Set(ctx, "u1", model.Online()), ShouldBeNil)

		rec, err := h.store.Get(ctx, "u1")
		So(err, ShouldBeNil)
		So(rec, ShouldResemble, model.Online())
	})

	Convey("Set rejects unknown states", func() {
		h := newHarness()
		defer h.store.Close()
		err := h.store.Set(ctx, "u1", model.PresenceRecord{State: "away"})
		So(err, ShouldEqual, ErrInvalidState)
	})

	Convey("QueryByState follows the latest write", func() {
		h := newHarness()
		defer h.store.Close()
		So(h.store.Set(ctx, "u1", model.Offline()), ShouldBeNil)
		So(h.store.Set(ctx, "u2", model.Online()), ShouldBeNil)
		So(h.store.Set(ctx, "u3", model.LoggedOut()), ShouldBeNil)
		So(h.store.Set(ctx, "u2", model.Offline()), ShouldBeNil)
		So(h.store.Set(ctx, "u1", model.Online()), ShouldBeNil)

		offline, err := h.store.QueryByState(ctx, model.StateOffline)
		So(err, ShouldBeNil)
		So(offline, ShouldHaveLength, 2)
		So(offline, ShouldContain, "u2")
		So(offline, ShouldContain, "u3")

		online, err := h.store.QueryByState(ctx, model.StateOnline)
		So(err, ShouldBeNil)
		So(online, ShouldResemble, []string{"u1"})
	})

	Convey("Subscribe delivers later writes in order", func() {
		h := newHarness()
		defer h.store.Close()
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		changes, err := h.store.Subscribe(subCtx)
		So(err, ShouldBeNil)

		So(h.store.Set(ctx, "u1", model.Online()), ShouldBeNil)
		So(h.store.Set(ctx, "u1", model.LoggedOut()), ShouldBeNil)

		first, ok := receive(changes)
		So(ok, ShouldBeTrue)
		So(first, ShouldResemble, model.PresenceChange{UserID: "u1", Record: model.Online()})

		second, ok := receive(changes)
		So(ok, ShouldBeTrue)
		So(second, ShouldResemble, model.PresenceChange{UserID: "u1", Record: model.LoggedOut()})

		Convey("and closes the channel when the context ends", func() {
			cancel()
			for range changes {
			}
			So(true, ShouldBeTrue)
		})
	})

	Convey("A dropped connection fires its hook", func() {
		h := newHarness()
		defer h.store.Close()
		conn, err := h.store.Connect(ctx)
		So(err, ShouldBeNil)
		So(conn.ID(), ShouldNotBeEmpty)

		So(conn.OnDisconnect(ctx, "u1", model.Offline()), ShouldBeNil)
		So(h.store.Set(ctx, "u1", model.Online()), ShouldBeNil)

		h.drop(conn)

		rec, err := h.store.Get(ctx, "u1")
		So(err, ShouldBeNil)
		So(rec, ShouldResemble, model.Offline())
	})

	Convey("A cancelled hook does not fire", func() {
		h := newHarness()
		defer h.store.Close()
		conn, err := h.store.Connect(ctx)
		So(err, ShouldBeNil)

		So(conn.OnDisconnect(ctx, "u1", model.Offline()), ShouldBeNil)
		So(conn.CancelOnDisconnect(ctx, "u1"), ShouldBeNil)
		So(h.store.Set(ctx, "u1", model.Online()), ShouldBeNil)

		h.drop(conn)

		rec, err := h.store.Get(ctx, "u1")
		So(err, ShouldBeNil)
		So(rec, ShouldResemble, model.Online())
	})

	Convey("A clean close discards hooks", func() {
		h := newHarness()
		defer h.store.Close()
		conn, err := h.store.Connect(ctx)
		So(err, ShouldBeNil)
		So(conn.OnDisconnect(ctx, "u1", model.Offline()), ShouldBeNil)
		So(h.store.Set(ctx, "u1", model.Online()), ShouldBeNil)

		So(conn.Close(ctx), ShouldBeNil)
		So(conn.OnDisconnect(ctx, "u1", model.Offline()), ShouldEqual, ErrConnClosed)

		rec, err := h.store.Get(ctx, "u1")
		So(err, ShouldBeNil)
		So(rec.State, ShouldEqual, model.StateOnline)
	})

	Convey("A hook is skipped while another session of the user is alive", func() {
		h := newHarness()
		defer h.store.Close()
		tab1, err := h.store.Connect(ctx)
		So(err, ShouldBeNil)
		tab2, err := h.store.Connect(ctx)
		So(err, ShouldBeNil)
		defer tab2.Close(ctx)

		So(tab1.OnDisconnect(ctx, "u1", model.Offline()), ShouldBeNil)
		So(tab2.OnDisconnect(ctx, "u1", model.Offline()), ShouldBeNil)
		So(h.store.Set(ctx, "u1", model.Online()), ShouldBeNil)

		h.drop(tab1)

		rec, err := h.store.Get(ctx, "u1")
		So(err, ShouldBeNil)
		So(rec.State, ShouldEqual, model.StateOnline)

		Convey("and fires once the last session drops", func() {
			h.drop(tab2)
			rec, err := h.store.Get(ctx, "u1")
			So(err, ShouldBeNil)
			So(rec.State, ShouldEqual, model.StateOffline)
		})
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given an in-memory presence store", t, func() {
		storeContract(func() harness {
			return harness{
				store: NewMemoryStore(),
				drop:  func(c Conn) { c.Abort() },
			}
		})

		Convey("Subscribers never block writers", func() {
			s := NewMemoryStore()
			defer s.Close()
			ctx := context.Background()
			changes, err := s.Subscribe(ctx)
			So(err, ShouldBeNil)

			for i := 0; i < 1000; i++ {
				rec := model.Online()
				if i%2 == 1 {
					rec = model.Offline()
				}
				So(s.Set(ctx, "u1", rec), ShouldBeNil)
			}

			count := 0
			for count < 1000 {
				if _, ok := receive(changes); !ok {
					break
				}
				count++
			}
			So(count, ShouldEqual, 1000)
		})

		Convey("Close ends subscriptions and refuses writes", func() {
			s := NewMemoryStore()
			changes, err := s.Subscribe(context.Background())
			So(err, ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			_, ok := <-changes
			So(ok, ShouldBeFalse)
			So(s.Set(context.Background(), "u1", model.Online()), ShouldEqual, ErrStoreClosed)
		})
	})
}
