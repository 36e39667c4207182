package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/rentrank/internal/adapters/presencestore"
	"github.com/okian/rentrank/internal/adapters/profilestore"
	service "github.com/okian/rentrank/internal/app"
	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/internal/domain/presence"
	. "github.com/smartystreets/goconvey/convey"
)

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with its presence listener", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := presencestore.NewMemoryStore()
		defer store.Close()
		profiles := profilestore.NewMemoryStore()
		seedProfile(profiles, "u1", 4.5, 12)

		svc := newTestService(store, profiles)
		So(svc.InitPresenceListener(ctx), ShouldEqual, service.ErrNotStarted)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()
		So(svc.InitPresenceListener(ctx), ShouldBeNil)

		score := func() float64 {
			p, err := profiles.Get(ctx, "u1")
			if err != nil {
				return -1
			}
			return p.CompositeScore
		}

		Convey("A second listener is refused", func() {
			So(svc.InitPresenceListener(ctx), ShouldEqual, service.ErrListenerStarted)
		})

		Convey("A user coming online is rescored", func() {
			So(store.Set(ctx, "u1", model.Online()), ShouldBeNil)
			So(eventually(func() bool { return score() == 4720 }), ShouldBeTrue)
			So(svc.PresencePhase("u1"), ShouldEqual, presence.PhaseOnline)
		})

		Convey("A user going offline only has lastActiveAt stamped", func() {
			So(store.Set(ctx, "u1", model.Online()), ShouldBeNil)
			So(eventually(func() bool { return score() == 4720 }), ShouldBeTrue)

			later := 1000.0
			So(profiles.Merge(ctx, "u1", model.ProfilePatch{CompositeScore: &later}), ShouldBeNil)
			So(store.Set(ctx, "u1", model.Offline()), ShouldBeNil)

			So(eventually(func() bool { return svc.PresencePhase("u1") == presence.PhaseOffline }), ShouldBeTrue)
			time.Sleep(50 * time.Millisecond)
			So(score(), ShouldEqual, 1000)
		})

		Convey("A client session drives the same pipeline", func() {
			session := presence.NewSession(store, presence.WithGracePeriod(50*time.Millisecond))
			defer session.Close(ctx)

			So(session.Login(ctx, "u1"), ShouldBeNil)
			So(eventually(func() bool { return score() == 4720 }), ShouldBeTrue)

			So(session.Logout(ctx), ShouldBeNil)
			So(eventually(func() bool { return svc.PresencePhase("u1") == presence.PhaseOffline }), ShouldBeTrue)
		})

		Convey("A restarted service can listen again", func() {
			svc.Stop()
			So(svc.GetStats()["listenerStarted"], ShouldEqual, false)

			So(svc.Start(ctx), ShouldBeNil)
			So(svc.InitPresenceListener(ctx), ShouldBeNil)

			So(store.Set(ctx, "u1", model.Online()), ShouldBeNil)
			So(eventually(func() bool { return score() == 4720 }), ShouldBeTrue)
		})

		Convey("Stats describe the running service", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["listenerStarted"], ShouldEqual, true)
			So(stats["workerCount"], ShouldEqual, 2)
		})
	})
}

func TestServiceStartupSweep(t *testing.T) {
	Convey("Given offline users when the service starts", t, func() {
		ctx := context.Background()
		store := presencestore.NewMemoryStore()
		defer store.Close()
		profiles := profilestore.NewMemoryStore()
		seedProfile(profiles, "u1", 2, 3)
		So(store.Set(ctx, "u1", model.Offline()), ShouldBeNil)

		svc := newTestService(store, profiles,
			service.WithSweepOnStart(true),
			service.WithSweepSchedule(service.DefaultSweepSchedule, time.UTC),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Then the startup sweep rescores them", func() {
			So(eventually(func() bool {
				_, ok := svc.LastSweep()
				return ok
			}), ShouldBeTrue)
			p, _ := profiles.Get(ctx, "u1")
			So(p.CompositeScore, ShouldEqual, 2130)
		})
	})

	Convey("Given a broken schedule", t, func() {
		store := presencestore.NewMemoryStore()
		defer store.Close()
		svc := newTestService(store, profilestore.NewMemoryStore(),
			service.WithSweepSchedule("whenever", nil),
		)

		Convey("Then Start fails", func() {
			So(svc.Start(context.Background()), ShouldNotBeNil)
		})
	})
}
