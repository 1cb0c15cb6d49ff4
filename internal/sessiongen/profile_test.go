package sessiongen

import (
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/keyprint/internal/domain/features"
	"github.com/okian/keyprint/internal/domain/model"
)

func extract(events []model.Event) features.Vector {
	return features.Extract(model.NewSession("gen", time.Unix(0, 0), events))
}

func value(v features.Vector, name string) float64 {
	f, _ := v.Float(name)
	return f
}

func TestGenerator(t *testing.T) {
	convey.Convey("Given a seeded generator", t, func() {
		gen := NewGenerator(42)

		convey.Convey("When it renders a human session", func() {
			events := gen.Events(HumanProfile())
			v := extract(events)

			convey.Convey("Then every event is valid and ordered", func() {
				for i, e := range events {
					convey.So(e.Validate(), convey.ShouldBeNil)
					if i > 0 {
						convey.So(e.TS, convey.ShouldBeGreaterThanOrEqualTo, events[i-1].TS)
					}
				}
			})

			convey.Convey("Then it types and moves at human pace", func() {
				convey.So(value(v, features.TypingSpeed), convey.ShouldBeLessThan, 600)
				convey.So(value(v, features.DwellTimeMean), convey.ShouldBeBetween, 55, 135)
				convey.So(value(v, features.MouseVelocityMean), convey.ShouldBeLessThan, 3)
				convey.So(value(v, features.MicroCorrectionRatio), convey.ShouldBeGreaterThan, 0.05)
				convey.So(value(v, features.IdleTimeRatio), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When it renders a bot session", func() {
			v := extract(gen.Events(BotProfile()))

			convey.Convey("Then it types fast with short holds along straight lines", func() {
				convey.So(value(v, features.TypingSpeed), convey.ShouldBeGreaterThan, 800)
				convey.So(value(v, features.DwellTimeMean), convey.ShouldBeLessThan, 30)
				convey.So(value(v, features.MouseVelocityMean), convey.ShouldBeGreaterThan, 5)
				convey.So(value(v, features.PathStraightness), convey.ShouldBeGreaterThanOrEqualTo, 0.98)
				convey.So(value(v, features.MicroCorrectionRatio), convey.ShouldEqual, 0)
			})
		})
	})

	convey.Convey("Given two generators with the same seed", t, func() {
		a, b := NewGenerator(7), NewGenerator(7)

		convey.Convey("Then they render the same sessions and devices", func() {
			convey.So(a.Events(BotProfile()), convey.ShouldResemble, b.Events(BotProfile()))
			convey.So(a.Device(BotProfile(), "u"), convey.ShouldResemble, b.Device(BotProfile(), "u"))
		})
	})

	convey.Convey("Given device draws", t, func() {
		gen := NewGenerator(1)
		home := gen.HomeDevice("alice")

		convey.Convey("Then humans keep their home device", func() {
			d := gen.Device(HumanProfile(), "alice")
			convey.So(d.Fingerprint, convey.ShouldEqual, home.Fingerprint)
			convey.So(d.Country, convey.ShouldEqual, home.Country)
			convey.So(d.ScreenResolution, convey.ShouldEqual, home.ScreenResolution)
		})

		convey.Convey("Then bots report a different fingerprint", func() {
			d := gen.Device(BotProfile(), "alice")
			convey.So(d.Fingerprint, convey.ShouldNotEqual, home.Fingerprint)
		})
	})
}
