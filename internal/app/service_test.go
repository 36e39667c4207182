package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/rentrank/internal/adapters/presencestore"
	"github.com/okian/rentrank/internal/adapters/profilestore"
	service "github.com/okian/rentrank/internal/app"
	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var fixedNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// flakyProfiles fails reads for selected users and can hold reads open.
type flakyProfiles struct {
	profilestore.Store

	mu      sync.Mutex
	failFor map[string]bool
	gate    chan struct{}
	entered chan struct{}
}

func newFlakyProfiles(inner profilestore.Store) *flakyProfiles {
	return &flakyProfiles{Store: inner, failFor: map[string]bool{}}
}

func (f *flakyProfiles) Get(ctx context.Context, id string) (model.Profile, error) {
	f.mu.Lock()
	fail := f.failFor[id]
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}
	if fail {
		return model.Profile{}, errors.New("document store unavailable")
	}
	return f.Store.Get(ctx, id)
}

// brokenQuery fails every offline-user query.
type brokenQuery struct {
	presencestore.Store
}

func (brokenQuery) QueryByState(context.Context, model.PresenceState) ([]string, error) {
	return nil, errors.New("index unavailable")
}

func seedProfile(store profilestore.Store, id string, rating float64, rentals int) {
	p := model.NewProfile(id, fixedNow.Add(-90*24*time.Hour))
	p.RatingAverage = rating
	p.RentalCount = rentals
	if _, err := store.Create(context.Background(), p); err != nil {
		panic(err)
	}
}

func newTestService(presence presencestore.Store, profiles profilestore.Store, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithClock(clock),
		service.WithSweepSchedule("", nil),
		service.WithSweepOnStart(false),
		service.WithWorkerCount(2),
		service.WithGracePeriod(50 * time.Millisecond),
	}
	return service.New(presence, profiles, append(base, opts...)...)
}

func TestService_RecalculateUserScore(t *testing.T) {
	Convey("Given a service over in-memory stores", t, func() {
		ctx := context.Background()
		presence := presencestore.NewMemoryStore()
		defer presence.Close()
		profiles := profilestore.NewMemoryStore()
		svc := newTestService(presence, profiles)

		Convey("A stored profile gets its composite score", func() {
			seedProfile(profiles, "u1", 4.5, 12)
			So(svc.RecalculateUserScore(ctx, "u1"), ShouldBeNil)

			p, err := profiles.Get(ctx, "u1")
			So(err, ShouldBeNil)
			So(p.CompositeScore, ShouldEqual, 4720)
			So(p.LastActiveAt, ShouldEqual, fixedNow)

			Convey("and recalculating again changes nothing", func() {
				So(svc.RecalculateUserScore(ctx, "u1"), ShouldBeNil)
				again, _ := profiles.Get(ctx, "u1")
				So(again, ShouldResemble, p)
			})
		})

		Convey("A missing profile is a no-op and is not created", func() {
			So(svc.RecalculateUserScore(ctx, "ghost"), ShouldBeNil)
			So(profiles.Count(), ShouldEqual, 0)
		})

		Convey("An empty user id is rejected", func() {
			So(svc.RecalculateUserScore(ctx, ""), ShouldEqual, service.ErrEmptyUserID)
		})

		Convey("A store failure is returned", func() {
			flaky := newFlakyProfiles(profiles)
			flaky.failFor["u1"] = true
			seedProfile(profiles, "u1", 1, 1)

			err := newTestService(presence, flaky).RecalculateUserScore(ctx, "u1")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestService_UpdateProfile(t *testing.T) {
	Convey("Given a service over in-memory stores", t, func() {
		ctx := context.Background()
		presence := presencestore.NewMemoryStore()
		defer presence.Close()
		profiles := profilestore.NewMemoryStore()
		svc := newTestService(presence, profiles)

		name := "Ann"
		rating := 4.5
		rentals := 12

		Convey("The first write creates the profile with defaults and scores it", func() {
			p, err := svc.UpdateProfile(ctx, "u1", model.ProfilePatch{Name: &name})
			So(err, ShouldBeNil)
			So(p.Name, ShouldEqual, "Ann")
			So(p.RatingAverage, ShouldEqual, 0)
			So(p.RentalCount, ShouldEqual, 0)
			So(p.CompositeScore, ShouldEqual, 100)
			So(p.LastActiveAt, ShouldEqual, fixedNow)

			Convey("and a later write merges and rescores", func() {
				p, err := svc.UpdateProfile(ctx, "u1", model.ProfilePatch{RatingAverage: &rating, RentalCount: &rentals})
				So(err, ShouldBeNil)
				So(p.Name, ShouldEqual, "Ann")
				So(p.CompositeScore, ShouldEqual, 4720)
			})
		})

		Convey("A client supplied score is ignored", func() {
			forged := 1e9
			p, err := svc.UpdateProfile(ctx, "u1", model.ProfilePatch{RatingAverage: &rating, CompositeScore: &forged})
			So(err, ShouldBeNil)
			So(p.CompositeScore, ShouldEqual, 4600)
		})

		Convey("Negative values are rejected before any write", func() {
			negative := -1
			_, err := svc.UpdateProfile(ctx, "u1", model.ProfilePatch{RentalCount: &negative})
			So(errors.Is(err, service.ErrInvalidProfile), ShouldBeTrue)
			So(profiles.Count(), ShouldEqual, 0)
		})

		Convey("An empty id is rejected", func() {
			_, err := svc.UpdateProfile(ctx, "", model.ProfilePatch{Name: &name})
			So(err, ShouldEqual, service.ErrEmptyUserID)
		})
	})
}

func TestService_RecalculateOfflineUsersScore(t *testing.T) {
	Convey("Given offline and online users", t, func() {
		ctx := context.Background()
		presence := presencestore.NewMemoryStore()
		defer presence.Close()
		profiles := profilestore.NewMemoryStore()

		for _, id := range []string{"u1", "u2", "u3", "u4"} {
			seedProfile(profiles, id, 3, 5)
		}
		So(presence.Set(ctx, "u1", model.Offline()), ShouldBeNil)
		So(presence.Set(ctx, "u2", model.LoggedOut()), ShouldBeNil)
		So(presence.Set(ctx, "u3", model.Offline()), ShouldBeNil)
		So(presence.Set(ctx, "u4", model.Online()), ShouldBeNil)

		Convey("Only offline users are recalculated", func() {
			svc := newTestService(presence, profiles)
			summary, err := svc.RecalculateOfflineUsersScore(ctx)
			So(err, ShouldBeNil)
			So(summary.Total, ShouldEqual, 3)
			So(summary.Succeeded, ShouldEqual, 3)
			So(summary.Failed, ShouldEqual, 0)
			So(summary.StartedAt, ShouldEqual, fixedNow)

			online, _ := profiles.Get(ctx, "u4")
			So(online.CompositeScore, ShouldEqual, 0)
			offline, _ := profiles.Get(ctx, "u1")
			So(offline.CompositeScore, ShouldEqual, 3150)

			last, ok := svc.LastSweep()
			So(ok, ShouldBeTrue)
			So(last.Total, ShouldEqual, 3)
		})

		Convey("A failing user does not stop the others", func() {
			flaky := newFlakyProfiles(profiles)
			flaky.failFor["u2"] = true
			svc := newTestService(presence, flaky)

			summary, err := svc.RecalculateOfflineUsersScore(ctx)
			So(err, ShouldBeNil)
			So(summary.Total, ShouldEqual, 3)
			So(summary.Succeeded, ShouldEqual, 2)
			So(summary.Failed, ShouldEqual, 1)

			p3, _ := profiles.Get(ctx, "u3")
			So(p3.CompositeScore, ShouldEqual, 3150)
		})

		Convey("Offline users without a profile count as succeeded no-ops", func() {
			So(presence.Set(ctx, "ghost", model.Offline()), ShouldBeNil)
			summary, err := newTestService(presence, profiles).RecalculateOfflineUsersScore(ctx)
			So(err, ShouldBeNil)
			So(summary.Total, ShouldEqual, 4)
			So(summary.Failed, ShouldEqual, 0)
			So(profiles.Count(), ShouldEqual, 4)
		})

		Convey("A failing query fails the sweep", func() {
			svc := newTestService(brokenQuery{presence}, profiles)
			_, err := svc.RecalculateOfflineUsersScore(ctx)
			So(err, ShouldNotBeNil)

			_, ok := svc.LastSweep()
			So(ok, ShouldBeFalse)
		})

		Convey("Overlapping sweeps are refused", func() {
			flaky := newFlakyProfiles(profiles)
			flaky.gate = make(chan struct{})
			flaky.entered = make(chan struct{}, 1)
			svc := newTestService(presence, flaky, service.WithSweepConcurrency(1))

			done := make(chan error, 1)
			go func() {
				_, err := svc.RecalculateOfflineUsersScore(ctx)
				done <- err
			}()
			<-flaky.entered

			_, err := svc.RecalculateOfflineUsersScore(ctx)
			So(err, ShouldEqual, service.ErrSweepInProgress)

			close(flaky.gate)
			So(<-done, ShouldBeNil)
		})
	})
}
