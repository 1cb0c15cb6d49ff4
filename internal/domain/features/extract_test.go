package features

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/keyprint/internal/domain/model"
)

func session(events ...model.Event) model.Session {
	return model.NewSession("test", time.Unix(0, 0), events)
}

// uniformTyping returns n key presses with fixed dwell and flight.
func uniformTyping(start float64, n int, dwell, flight float64) []model.Event {
	out := make([]model.Event, 0, 2*n)
	for i := 0; i < n; i++ {
		down := start + float64(i)*flight
		out = append(out, model.KeyDown(down, "k"), model.KeyUp(down+dwell, "k"))
	}
	return out
}

func TestExtractEmptyAndDegenerate(t *testing.T) {
	Convey("Given a session with zero events", t, func() {
		v := Extract(session())

		Convey("Every numeric feature is null and flags are false", func() {
			for _, n := range Names {
				if IsBoolean(n) {
					So(v.Get(n).Valid, ShouldBeTrue)
					So(v.Bool(n), ShouldBeFalse)
					continue
				}
				So(v.Get(n).Valid, ShouldBeFalse)
			}
			So(v.Len(), ShouldEqual, len(Names))
		})
	})

	Convey("Given a single KeyDown without KeyUp", t, func() {
		v := Extract(session(model.KeyDown(5, "a")))

		Convey("Dwell statistics are null", func() {
			So(v.Get(DwellTimeMean).Valid, ShouldBeFalse)
			So(v.Get(DwellTimeStd).Valid, ShouldBeFalse)
			So(v.Get(FlightTimeMean).Valid, ShouldBeFalse)
		})

		Convey("Counts and clamped speed are defined", func() {
			n, _ := v.Float(KeyCount)
			So(n, ShouldEqual, 1)
			speed, ok := v.Float(TypingSpeed)
			So(ok, ShouldBeTrue)
			So(speed, ShouldAlmostEqual, 60, 1e-9)
			So(math.IsInf(speed, 0), ShouldBeFalse)
		})
	})

	Convey("Given a single PointerMove", t, func() {
		v := Extract(session(model.PointerMove(0, 10, 10)))

		Convey("Straightness is zero rather than NaN", func() {
			s, ok := v.Float(PathStraightness)
			So(ok, ShouldBeTrue)
			So(s, ShouldEqual, 0)
			d, _ := v.Float(MouseTotalDistance)
			So(d, ShouldEqual, 0)
			So(v.Get(MouseVelocityMean).Valid, ShouldBeFalse)
			So(v.Get(MicroCorrectionRatio).Valid, ShouldBeFalse)
		})
	})

	Convey("Given a session without key events", t, func() {
		v := Extract(session(model.Scroll(0, 0), model.Scroll(100, 500)))

		Convey("Backspace ratio is zero and typing speed null", func() {
			r, ok := v.Float(BackspaceRatio)
			So(ok, ShouldBeTrue)
			So(r, ShouldEqual, 0)
			So(v.Get(TypingSpeed).Valid, ShouldBeFalse)
		})

		Convey("Scroll velocity is offset delta over time", func() {
			s, _ := v.Float(ScrollVelocityMean)
			So(s, ShouldEqual, 5)
		})
	})
}

func TestExtractKeystrokes(t *testing.T) {
	Convey("Given uniform typing of 20 presses", t, func() {
		v := Extract(session(uniformTyping(0, 20, 150, 200)...))

		Convey("Dwell and flight statistics are exact", func() {
			m, _ := v.Float(DwellTimeMean)
			So(m, ShouldEqual, 150)
			sd, _ := v.Float(DwellTimeStd)
			So(sd, ShouldEqual, 0)
			f, _ := v.Float(FlightTimeMean)
			So(f, ShouldEqual, 200)
			r, _ := v.Float(FlightTimeStd)
			So(r, ShouldEqual, 0)
		})

		Convey("Typing speed is presses per minute", func() {
			speed, _ := v.Float(TypingSpeed)
			So(speed, ShouldAlmostEqual, 20/(3950.0/60000), 1e-9)
			d, _ := v.Float(SessionDuration)
			So(d, ShouldEqual, 3950)
		})
	})

	Convey("Given a held key that auto-repeats", t, func() {
		v := Extract(session(
			model.KeyDown(0, "a"),
			model.KeyDown(30, "a"),
			model.KeyDown(60, "a"),
			model.KeyUp(100, "a"),
		))

		Convey("Dwell is measured from the first outstanding press", func() {
			m, _ := v.Float(DwellTimeMean)
			So(m, ShouldEqual, 100)
			So(v.Get(DwellTimeStd).Valid, ShouldBeFalse)
			f, _ := v.Float(FlightTimeMean)
			So(f, ShouldEqual, 30)
		})
	})

	Convey("Given backspaces and a paste", t, func() {
		v := Extract(session(
			model.KeyDown(0, "a"), model.KeyUp(80, "a"),
			model.KeyDown(200, "Backspace"), model.KeyUp(260, "Backspace"),
			model.KeyDown(400, "b"), model.KeyUp(470, "b"),
			model.KeyDown(600, "BACKSPACE"), model.KeyUp(650, "BACKSPACE"),
			model.Paste(700),
		))

		Convey("Backspace ratio and clipboard flag are reported", func() {
			r, _ := v.Float(BackspaceRatio)
			So(r, ShouldEqual, 0.5)
			So(v.Bool(CopyPaste), ShouldBeTrue)
		})
	})

	Convey("Given a long pause between presses", t, func() {
		v := Extract(session(model.KeyDown(0, "a"), model.KeyUp(100, "a"), model.KeyDown(2600, "b"), model.KeyUp(2700, "b")))

		Convey("The whole gap counts as idle", func() {
			idle, _ := v.Float(IdleTime)
			So(idle, ShouldEqual, 2500)
			ratio, _ := v.Float(IdleTimeRatio)
			So(ratio, ShouldAlmostEqual, 2500.0/2700, 1e-12)
		})
	})
}

func TestExtractPointer(t *testing.T) {
	Convey("Given a perfectly straight pointer path", t, func() {
		v := Extract(session(
			model.PointerMove(0, 0, 0),
			model.PointerMove(10, 30, 40),
			model.PointerMove(20, 60, 80),
		))

		Convey("Straightness is one and velocity is distance over time", func() {
			s, _ := v.Float(PathStraightness)
			So(s, ShouldAlmostEqual, 1, 1e-12)
			d, _ := v.Float(MouseTotalDistance)
			So(d, ShouldEqual, 100)
			vm, _ := v.Float(MouseVelocityMean)
			So(vm, ShouldEqual, 5)
			vs, _ := v.Float(MouseVelocityStd)
			So(vs, ShouldEqual, 0)
		})
	})

	Convey("Given a path with jitter", t, func() {
		v := Extract(session(
			model.PointerMove(0, 0, 0),
			model.PointerMove(10, 1, 0),
			model.PointerMove(20, 1, 0),
			model.PointerMove(30, 1, 2),
			model.PointerMove(40, 50, 2),
		))

		Convey("Sub-threshold moves count as micro-corrections", func() {
			mc, _ := v.Float(MicroCorrections)
			So(mc, ShouldEqual, 3)
			ratio, _ := v.Float(MicroCorrectionRatio)
			So(ratio, ShouldEqual, 0.75)
			s, _ := v.Float(PathStraightness)
			So(s, ShouldBeLessThan, 1)
		})
	})

	Convey("Given a pointer resting on one spot", t, func() {
		v := Extract(session(
			model.PointerMove(0, 10, 10),
			model.PointerMove(10, 10, 10),
			model.PointerMove(20, 10, 10),
		))

		Convey("Zero-length moves are micro-corrections", func() {
			mc, _ := v.Float(MicroCorrections)
			So(mc, ShouldEqual, 2)
			ratio, _ := v.Float(MicroCorrectionRatio)
			So(ratio, ShouldEqual, 1)
			s, _ := v.Float(PathStraightness)
			So(s, ShouldEqual, 0)
		})
	})

	Convey("Given two samples at the same timestamp", t, func() {
		v := Extract(session(model.PointerMove(5, 0, 0), model.PointerMove(5, 3, 4)))

		Convey("The velocity sample is skipped", func() {
			So(v.Get(MouseVelocityMean).Valid, ShouldBeFalse)
			d, _ := v.Float(MouseTotalDistance)
			So(d, ShouldEqual, 5)
		})
	})
}

func TestExtractDeterminism(t *testing.T) {
	Convey("Given a mixed session", t, func() {
		events := append(uniformTyping(0, 12, 90, 170), model.PointerMove(2100, 1, 2), model.PointerMove(2150, 9, 7), model.Copy(2200))
		s := session(events...)

		Convey("Extracting twice yields identical vectors", func() {
			a, b := Extract(s), Extract(s)
			So(a.Equal(b), ShouldBeTrue)

			ja, err := json.Marshal(a)
			So(err, ShouldBeNil)
			jb, _ := json.Marshal(b)
			So(string(ja), ShouldEqual, string(jb))
		})
	})
}

func TestVectorJSON(t *testing.T) {
	Convey("Given a vector with null and flag entries", t, func() {
		v := NewVector(map[string]Value{DwellTimeMean: Some(120), DwellTimeStd: {}, CopyPaste: Flag(true)})
		raw, err := json.Marshal(v)

		Convey("Nulls and booleans survive a JSON round trip", func() {
			So(err, ShouldBeNil)
			So(string(raw), ShouldEqual, `{"copy_paste":true,"dwell_time_mean":120,"dwell_time_std":null}`)

			var back Vector
			So(json.Unmarshal(raw, &back), ShouldBeNil)
			So(back.Equal(v), ShouldBeTrue)
			So(back.Keys(), ShouldResemble, []string{CopyPaste, DwellTimeMean, DwellTimeStd})
		})

		Convey("NaN is never stored as a defined value", func() {
			So(Some(math.NaN()).Valid, ShouldBeFalse)
			So(Some(math.Inf(1)).Valid, ShouldBeFalse)
		})
	})
}

func TestIntervals(t *testing.T) {
	Convey("Given presses interleaved with other events", t, func() {
		s := session(
			model.KeyDown(0, "a"), model.PointerMove(10, 1, 1), model.KeyUp(50, "a"),
			model.KeyDown(180, "b"), model.KeyDown(400, "c"),
		)

		Convey("Only KeyDown gaps are returned", func() {
			So(Intervals(s), ShouldResemble, []float64{180, 220})
			So(Intervals(session()), ShouldBeEmpty)
		})
	})
}

func TestExtractSkipsMalformedEvents(t *testing.T) {
	Convey("Given a session built with payload-less events in the middle", t, func() {
		clean := []model.Event{
			model.KeyDown(0, "a"), model.KeyUp(80, "a"),
			model.PointerMove(100, 0, 0), model.PointerMove(120, 30, 40),
			model.Scroll(150, 0), model.Scroll(250, 500),
			model.KeyDown(300, "b"), model.KeyUp(390, "b"),
		}
		dirty := []model.Event{
			model.KeyDown(0, "a"), model.KeyUp(80, "a"),
			{Kind: model.KindPointerMove, TS: 90},
			model.PointerMove(100, 0, 0), model.PointerMove(120, 30, 40),
			{Kind: model.KindScroll, TS: 130},
			model.Scroll(150, 0), model.Scroll(250, 500),
			{Kind: model.KindKeyDown, TS: 280},
			model.KeyDown(300, "b"), model.KeyUp(390, "b"),
		}

		Convey("Extraction does not panic and ignores them", func() {
			var v Vector
			So(func() { v = Extract(session(dirty...)) }, ShouldNotPanic)
			So(v.Equal(Extract(session(clean...))), ShouldBeTrue)
			So(Intervals(session(dirty...)), ShouldResemble, Intervals(session(clean...)))
		})
	})
}
