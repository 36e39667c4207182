package scoring_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/rentrank/internal/domain/model"
	scoring "github.com/okian/rentrank/internal/domain/scoring"
	"github.com/okian/rentrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]model.Profile
	getErr   error
	mergeErr error
	merges   int
}

func newFakeProfiles(profiles ...model.Profile) *fakeProfiles {
	f := &fakeProfiles{profiles: make(map[string]model.Profile)}
	for _, p := range profiles {
		f.profiles[p.ID] = p
	}
	return f
}

func (f *fakeProfiles) Get(_ context.Context, id string) (model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return model.Profile{}, f.getErr
	}
	p, ok := f.profiles[id]
	if !ok {
		return model.Profile{}, model.ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeProfiles) Merge(_ context.Context, id string, patch model.ProfilePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges++
	if f.mergeErr != nil {
		return f.mergeErr
	}
	p, ok := f.profiles[id]
	if !ok {
		return model.ErrProfileNotFound
	}
	f.profiles[id] = patch.Apply(p)
	return nil
}

func (f *fakeProfiles) get(id string) (model.Profile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	return p, ok
}

func TestEngineRecalculate(t *testing.T) {
	if err := logger.Init(); err != nil {
		t.Fatalf("logger init: %v", err)
	}

	Convey("Given a score engine with a fixed clock", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
		stale := now.Add(-60 * 24 * time.Hour)
		store := newFakeProfiles(model.Profile{
			ID:            "u1",
			Name:          "Ada",
			RatingAverage: 4.5,
			RentalCount:   12,
			LastActiveAt:  stale,
		})
		engine := scoring.NewEngine(store, scoring.WithClock(func() time.Time { return now }))

		Convey("When recalculating an existing profile", func() {
			err := engine.Recalculate(ctx, "u1", model.TriggerOnline)

			Convey("Then the score and lastActiveAt are written together", func() {
				So(err, ShouldBeNil)
				p, _ := store.get("u1")
				So(p.CompositeScore, ShouldEqual, 4720)
				So(p.LastActiveAt.Equal(now), ShouldBeTrue)
				So(p.Name, ShouldEqual, "Ada")
			})

			Convey("Then a second run produces the same document", func() {
				first, _ := store.get("u1")
				So(engine.Recalculate(ctx, "u1", model.TriggerSweep), ShouldBeNil)
				second, _ := store.get("u1")
				So(second, ShouldResemble, first)
			})
		})

		Convey("When the profile does not exist", func() {
			err := engine.Recalculate(ctx, "ghost", model.TriggerOnline)

			Convey("Then nothing is created and no error is returned", func() {
				So(err, ShouldBeNil)
				_, ok := store.get("ghost")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the profile disappears between read and write", func() {
			store.mergeErr = model.ErrProfileNotFound

			Convey("Then the miss is absorbed", func() {
				So(engine.Recalculate(ctx, "u1", model.TriggerOnline), ShouldBeNil)
			})
		})

		Convey("When the store fails to read", func() {
			store.getErr = errors.New("connection reset")

			Convey("Then the error is returned and nothing is written", func() {
				err := engine.Recalculate(ctx, "u1", model.TriggerManual)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "connection reset")
				So(store.merges, ShouldEqual, 0)
			})
		})

		Convey("When the store fails to write", func() {
			store.mergeErr = errors.New("disk full")

			Convey("Then the error is returned", func() {
				err := engine.Recalculate(ctx, "u1", model.TriggerManual)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "disk full")
			})
		})
	})
}

func TestEngineTouch(t *testing.T) {
	if err := logger.Init(); err != nil {
		t.Fatalf("logger init: %v", err)
	}

	Convey("Given a score engine with a fixed clock", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
		store := newFakeProfiles(model.Profile{ID: "u1", CompositeScore: 99, LastActiveAt: now.Add(-time.Hour)})
		engine := scoring.NewEngine(store, scoring.WithClock(func() time.Time { return now }))

		Convey("Touch stamps lastActiveAt and leaves the score alone", func() {
			So(engine.Touch(ctx, "u1"), ShouldBeNil)
			p, _ := store.get("u1")
			So(p.LastActiveAt.Equal(now), ShouldBeTrue)
			So(p.CompositeScore, ShouldEqual, 99)
		})

		Convey("Touch on a missing profile creates nothing", func() {
			So(engine.Touch(ctx, "ghost"), ShouldBeNil)
			_, ok := store.get("ghost")
			So(ok, ShouldBeFalse)
		})

		Convey("Touch propagates store failures", func() {
			store.mergeErr = errors.New("timeout")
			So(engine.Touch(ctx, "u1"), ShouldNotBeNil)
		})
	})
}
