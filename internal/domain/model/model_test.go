package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/rentrank/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestProfilePatch(t *testing.T) {
	Convey("Given a stored profile", t, func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		p := model.Profile{ID: "u1", Name: "Ann", Email: "ann@example.com", RatingAverage: 4.2, RentalCount: 7, LastActiveAt: now}

		Convey("An empty patch changes nothing", func() {
			patch := model.ProfilePatch{}
			So(patch.Empty(), ShouldBeTrue)
			So(patch.Apply(p), ShouldResemble, p)
		})

		Convey("A partial patch only touches the named fields", func() {
			rentals := 8
			score := 4290.0
			patch := model.ProfilePatch{RentalCount: &rentals, CompositeScore: &score}
			got := patch.Apply(p)

			So(patch.Empty(), ShouldBeFalse)
			So(got.RentalCount, ShouldEqual, 8)
			So(got.CompositeScore, ShouldEqual, 4290.0)
			So(got.Name, ShouldEqual, "Ann")
			So(got.RatingAverage, ShouldEqual, 4.2)
			So(got.LastActiveAt, ShouldEqual, now)
		})
	})

	Convey("NewProfile applies first-write defaults", t, func() {
		now := time.Now()
		p := model.NewProfile("u2", now)
		So(p.ID, ShouldEqual, "u2")
		So(p.RatingAverage, ShouldEqual, 0)
		So(p.RentalCount, ShouldEqual, 0)
		So(p.CompositeScore, ShouldEqual, 0)
		So(p.LastActiveAt, ShouldEqual, now)
	})
}

func TestPresenceRecord(t *testing.T) {
	Convey("Presence records serialize like the realtime store layout", t, func() {
		raw, err := json.Marshal(model.Online())
		So(err, ShouldBeNil)
		So(string(raw), ShouldEqual, `{"state":"online"}`)

		raw, err = json.Marshal(model.LoggedOut())
		So(err, ShouldBeNil)
		So(string(raw), ShouldEqual, `{"state":"offline","forceLogout":true}`)
	})

	Convey("Only online and offline are valid states", t, func() {
		So(model.StateOnline.Valid(), ShouldBeTrue)
		So(model.StateOffline.Valid(), ShouldBeTrue)
		So(model.PresenceState("away").Valid(), ShouldBeFalse)
	})
}

func TestJobKey(t *testing.T) {
	Convey("Jobs for the same user and kind share a key", t, func() {
		a := model.Job{UserID: "u1", Kind: model.JobRecalculate, Trigger: model.TriggerOnline}
		b := model.Job{UserID: "u1", Kind: model.JobRecalculate, Trigger: model.TriggerManual}
		c := model.Job{UserID: "u1", Kind: model.JobTouch}
		So(a.Key(), ShouldEqual, b.Key())
		So(a.Key(), ShouldNotEqual, c.Key())
	})
}
