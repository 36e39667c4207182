package types_test

import (
	"encoding/json"
	"testing"
	"time"

	types "github.com/okian/rentrank/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestResponse(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	Convey("Given a successful response", t, func() {
		resp := types.NewResponse(200, "User data updated successfully", map[string]string{"id": "u1"}, now)

		Convey("Then it is marked successful and stamped in milliseconds", func() {
			So(resp.Success, ShouldBeTrue)
			So(resp.Code, ShouldEqual, 200)
			So(resp.Timestamp, ShouldEqual, now.UnixMilli())
		})
	})

	Convey("Given an error response without data", t, func() {
		resp := types.NewResponse(500, "Failed to update user data", nil, now)

		Convey("Then data is encoded as null", func() {
			raw, err := json.Marshal(resp)
			So(err, ShouldBeNil)
			So(resp.Success, ShouldBeFalse)
			So(string(raw), ShouldContainSubstring, `"data":null`)
			So(string(raw), ShouldContainSubstring, `"code":500`)
		})
	})

	Convey("Given a client error", t, func() {
		resp := types.NewResponse(400, "User ID is required", nil, now)

		Convey("Then it is not successful", func() {
			So(resp.Success, ShouldBeFalse)
		})
	})
}
