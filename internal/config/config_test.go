package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/rentrank/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.InflightSize, convey.ShouldEqual, 50_000)
			convey.So(cfg.GracePeriod(), convey.ShouldEqual, 2*time.Second)
			convey.So(cfg.LeaseTTL(), convey.ShouldEqual, 15*time.Second)
			convey.So(cfg.ReapInterval(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("An unknown presence backend is rejected", func() {
			cfg.PresenceBackend = "firebase"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("A database driver without a DSN is rejected", func() {
			cfg.ProfileDriver = config.ProfilePostgres
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)

			cfg.ProfileDSN = "host=db user=rentrank dbname=rentrank"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("A non-positive grace period is rejected", func() {
			cfg.GracePeriodMS = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("An unknown log format is rejected", func() {
			cfg.LogFormat = "xml"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Timezones resolve by name", func() {
			cfg.SweepTimezone = "UTC"
			loc, err := cfg.Location()
			convey.So(err, convey.ShouldBeNil)
			convey.So(loc, convey.ShouldEqual, time.UTC)

			cfg.SweepTimezone = "Mars/Olympus"
			_, err = cfg.Location()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}
