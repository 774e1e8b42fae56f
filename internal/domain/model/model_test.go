package model_test

import (
	"testing"

	model "github.com/okian/presence/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestAttemptKey(t *testing.T) {
	convey.Convey("Given an attempt key", t, func() {
		key := model.AttemptKey{StudentID: "s-1", ClassID: "c-9", Date: "2026-10-15"}

		convey.Convey("Then String joins the parts in a stable order", func() {
			convey.So(key.String(), convey.ShouldEqual, "s-1:c-9:2026-10-15")
		})

		convey.Convey("Then keys for different days differ", func() {
			next := key
			next.Date = "2026-10-16"
			convey.So(next.String(), convey.ShouldNotEqual, key.String())
		})
	})
}
