package scoring

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/keyprint/internal/domain/baseline"
	"github.com/okian/keyprint/internal/domain/features"
	"github.com/okian/keyprint/internal/domain/model"
	"github.com/okian/keyprint/internal/domain/types"
)

// naturalPointer is a wavy pointer path with occasional one-pixel corrections.
func naturalPointer(start float64, n int) []model.Event {
	out := make([]model.Event, 0, n)
	x := 100.0
	y := 300.0
	for i := 0; i < n; i++ {
		if i%4 == 3 {
			x++
		} else {
			x += 8
			y = 300 + 60*math.Sin(float64(i)/6)
		}
		out = append(out, model.PointerMove(start+float64(i)*20, x, y))
	}
	return out
}

// uniformTyping returns n presses with fixed dwell and flight.
func uniformTyping(start float64, n int, dwell, flight float64) []model.Event {
	out := make([]model.Event, 0, 2*n)
	for i := 0; i < n; i++ {
		down := start + float64(i)*flight
		out = append(out, model.KeyDown(down, "k"), model.KeyUp(down+dwell, "k"))
	}
	return out
}

func scenarioA() []model.Event {
	return append(naturalPointer(0, 50), uniformTyping(1050, 20, 150, 200)...)
}

func extract(events ...model.Event) features.Vector {
	return features.Extract(model.NewSession("s", time.Unix(0, 0), events))
}

func signalsOf(a Assessment) map[string]float64 {
	out := map[string]float64{}
	for _, f := range a.Factors {
		out[f.Signal] += f.Points
	}
	return out
}

func TestScoreScenarios(t *testing.T) {
	s := New()

	Convey("Given uniform natural typing with normal pointer jitter", t, func() {
		a := s.Score(extract(scenarioA()...), nil, model.DeviceSignal{})

		Convey("The score is low and the decision is ALLOW", func() {
			So(a.Score, ShouldBeLessThan, 30)
			So(a.Action, ShouldEqual, types.ActionAllow)
			So(a.Level, ShouldEqual, types.LevelSafe)
			So(signalsOf(a), ShouldResemble, map[string]float64{features.DwellTimeStd: 5, features.FlightTimeStd: 5})
		})
	})

	Convey("Given the same typing with a paste over a VPN", t, func() {
		events := append(scenarioA(), model.Paste(5100))
		a := s.Score(extract(events...), nil, model.DeviceSignal{VPN: true})

		Convey("Paste and VPN each contribute their full points", func() {
			sig := signalsOf(a)
			So(sig[features.CopyPaste], ShouldEqual, 10)
			So(sig[SignalVPN], ShouldEqual, 10)
			So(a.Score, ShouldBeGreaterThanOrEqualTo, 30)
			So(a.Action, ShouldEqual, types.ActionSoftChallenge)
		})
	})

	Convey("Given jittered typing with a paste over a VPN", t, func() {
		events := naturalPointer(0, 50)
		down := 1050.0
		for i := 0; i < 20; i++ {
			dwell := 120 + 15*float64(i%5-2)
			events = append(events, model.KeyDown(down, "k"), model.KeyUp(down+dwell, "k"))
			down += 200 + 20*float64(i%3-1)
		}
		events = append(events, model.Paste(down+500))
		a := s.Score(extract(events...), nil, model.DeviceSignal{VPN: true})

		Convey("Paste and VPN alone stay in the ALLOW band", func() {
			So(signalsOf(a), ShouldResemble, map[string]float64{features.CopyPaste: 10, SignalVPN: 10})
			So(a.Score, ShouldEqual, 20)
			So(a.Action, ShouldEqual, types.ActionAllow)
		})
	})

	Convey("Given a benign session and no baseline", t, func() {
		a := s.Score(extract(scenarioA()...), nil, model.DeviceSignal{Fingerprint: "new", Country: "BR"})

		Convey("Scoring degrades instead of failing", func() {
			So(a.BaselineUsed, ShouldBeFalse)
			So(a.Warnings, ShouldContain, types.WarningBaselineUnavailable)
			So(a.Deviations, ShouldBeEmpty)
			So(a.Action, ShouldEqual, types.ActionAllow)
			for _, f := range a.Factors {
				So(RequiresBaseline(f.Signal), ShouldBeFalse)
			}
		})
	})
}

func TestScoreBaseline(t *testing.T) {
	s := New()
	genuine := extract(scenarioA()...)
	trained, err := baseline.Establish("alice", time.Unix(0, 0), baseline.Sample{
		Vector: genuine,
		Device: model.DeviceSignal{Fingerprint: "fp-1", Country: "DE", ScreenResolution: "1920x1080"},
	})
	if err != nil {
		t.Fatal(err)
	}

	Convey("Given the identity's own behavior on a known device", t, func() {
		a := s.Score(genuine, &trained, model.DeviceSignal{Fingerprint: "fp-1", Country: "DE", ScreenResolution: "1920x1080"})

		Convey("No baseline rule fires", func() {
			So(a.BaselineUsed, ShouldBeTrue)
			So(a.Deviations, ShouldNotBeEmpty)
			for _, f := range a.Factors {
				So(RequiresBaseline(f.Signal), ShouldBeFalse)
			}
			So(a.Warnings, ShouldContain, types.WarningBaselineUnreliable)
		})
	})

	Convey("Given much faster typing from a new device and country", t, func() {
		impostor := extract(append(naturalPointer(0, 50), uniformTyping(1050, 20, 60, 90)...)...)
		a := s.Score(impostor, &trained, model.DeviceSignal{Fingerprint: "fp-2", Country: "US", ScreenResolution: "1920x1080"})

		Convey("Deviation and novelty rules contribute", func() {
			sig := signalsOf(a)
			So(sig[SignalNewFingerprint], ShouldEqual, 8)
			So(sig[SignalNewCountry], ShouldEqual, 12)
			So(sig[SignalNewResolution], ShouldEqual, 0)
			So(sig[DeviationSignal(features.DwellTimeMean)], ShouldEqual, 15)
			So(sig[DeviationSignal(features.FlightTimeMean)], ShouldEqual, 15)
			So(sig[SignalHighDeviations], ShouldEqual, 20)
			So(a.Action, ShouldEqual, types.ActionBlock)
		})

		Convey("Factors are sorted by descending points", func() {
			for i := 1; i < len(a.Factors); i++ {
				So(a.Factors[i-1].Points, ShouldBeGreaterThanOrEqualTo, a.Factors[i].Points)
			}
		})
	})
}

func TestScoreClamping(t *testing.T) {
	Convey("Given a scripted bot on a distant VPN", t, func() {
		var events []model.Event
		for i := 0; i < 10; i++ {
			events = append(events, model.PointerMove(float64(i*10), float64(i*100), 0))
		}
		events = append(events, uniformTyping(200, 30, 10, 40)...)
		events = append(events, model.Paste(1500))
		far := 5000.0
		a := New().Score(extract(events...), nil, model.DeviceSignal{VPN: true, GeoDistanceKM: &far})

		Convey("The total is capped at 100", func() {
			total := 0.0
			for _, f := range a.Factors {
				total += f.Points
			}
			So(total, ShouldBeGreaterThan, 100)
			So(a.Score, ShouldEqual, 100)
			So(a.Action, ShouldEqual, types.ActionBlock)
		})
	})

	Convey("Given a rule table with negative points", t, func() {
		s, err := NewWithRules(RuleSet{Rules: []Rule{
			{Signal: features.KeyCount, Bands: []Band{above("trusted", 0, -40)}},
			{Signal: SignalVPN, Flag: true, Points: 10},
		}})
		So(err, ShouldBeNil)
		a := s.Score(extract(model.KeyDown(0, "a")), nil, model.DeviceSignal{VPN: true})

		Convey("The total never goes below zero", func() {
			So(a.Score, ShouldEqual, 0)
			So(a.Factors, ShouldHaveLength, 2)
		})
	})

	Convey("Clamp handles edge values", t, func() {
		So(Clamp(-1), ShouldEqual, 0)
		So(Clamp(100.5), ShouldEqual, 100)
		So(Clamp(42), ShouldEqual, 42)
		So(Clamp(math.NaN()), ShouldEqual, 100)
	})
}

func TestScoreRuleSemantics(t *testing.T) {
	Convey("Given overlapping bands on one signal", t, func() {
		s, err := NewWithRules(RuleSet{Rules: []Rule{
			{Signal: features.KeyCount, Bands: []Band{above("some", 1, 3), above("many", 2, 4), below("few", 2, 100)}},
		}})
		So(err, ShouldBeNil)
		a := s.Score(extract(model.KeyDown(0, "a"), model.KeyDown(10, "b"), model.KeyDown(20, "c")), nil, model.DeviceSignal{})

		Convey("Every containing band stacks", func() {
			So(a.Score, ShouldEqual, 7)
			So(a.Factors, ShouldResemble, []Factor{
				{Signal: features.KeyCount, Band: "many", Value: 3, Points: 4},
				{Signal: features.KeyCount, Band: "some", Value: 3, Points: 3},
			})
		})
	})

	Convey("Given an invalid rule table at construction", t, func() {
		s, err := NewWithRules(RuleSet{Rules: []Rule{{Signal: "no_such_signal", Flag: true, Points: 5}}})

		Convey("The table is rejected instead of silently replaced", func() {
			So(errors.Is(err, ErrInvalidRules), ShouldBeTrue)
			So(s, ShouldBeNil)
		})
	})

	Convey("Given an empty rule table at construction", t, func() {
		_, err := NewWithRules(RuleSet{})
		So(errors.Is(err, ErrInvalidRules), ShouldBeTrue)
	})

	Convey("Given a band boundary value", t, func() {
		b := between("medium", 600, 800, 10)
		So(b.Contains(600), ShouldBeTrue)
		So(b.Contains(799.999), ShouldBeTrue)
		So(b.Contains(800), ShouldBeFalse)
	})

	Convey("Given a session with no key events", t, func() {
		a := New().Score(extract(model.Scroll(0, 0), model.Scroll(100, 10)), nil, model.DeviceSignal{})

		Convey("Rules on null features are skipped", func() {
			for _, f := range a.Factors {
				So(f.Signal, ShouldNotEqual, features.DwellTimeMean)
				So(f.Signal, ShouldNotEqual, features.TypingSpeed)
			}
		})
	})

	Convey("Given an empty session", t, func() {
		a := New().Score(extract(), nil, model.DeviceSignal{})
		So(a.Score, ShouldEqual, 0)
		So(a.Factors, ShouldNotBeNil)
		So(a.Action, ShouldEqual, types.ActionAllow)
	})
}

func TestRuleTables(t *testing.T) {
	Convey("The default table is valid", t, func() {
		So(DefaultRules().Validate(), ShouldBeNil)
	})

	Convey("Invalid tables are rejected", t, func() {
		cases := map[string]RuleSet{
			"empty":          {},
			"unknown signal": {Rules: []Rule{{Signal: "heartbeat", Flag: true, Points: 1}}},
			"duplicate":      {Rules: []Rule{{Signal: SignalVPN, Flag: true, Points: 1}, {Signal: SignalVPN, Flag: true, Points: 2}}},
			"flag with band": {Rules: []Rule{{Signal: SignalVPN, Flag: true, Bands: []Band{above("x", 1, 1)}}}},
			"no bands":       {Rules: []Rule{{Signal: features.TypingSpeed}}},
			"inverted band":  {Rules: []Rule{{Signal: features.TypingSpeed, Bands: []Band{between("x", 5, 1, 1)}}}},
			"open band":      {Rules: []Rule{{Signal: features.TypingSpeed, Bands: []Band{{Label: "x", Points: 1}}}}},
			"bad deviation":  {Rules: []Rule{{Signal: DeviationSignal(features.KeyCount), Bands: []Band{above("x", 1, 1)}}}},
			"infinite":       {Rules: []Rule{{Signal: SignalVPN, Flag: true, Points: math.Inf(1)}}},
		}
		for name, rs := range cases {
			err := rs.Validate()
			So(errors.Is(err, ErrInvalidRules), ShouldBeTrue)
			if err == nil {
				t.Errorf("%s: expected error", name)
			}
		}
	})

	Convey("Given a YAML rule table", t, func() {
		rs, err := ParseRules([]byte(`
rules:
  - signal: typing_speed
    bands:
      - {label: high, min: 700, points: 25}
  - signal: device.vpn
    flag: true
    points: 30
`))

		Convey("It parses into a usable table", func() {
			So(err, ShouldBeNil)
			So(rs.Rules, ShouldHaveLength, 2)
			So(*rs.Rules[0].Bands[0].Min, ShouldEqual, 700)
			So(rs.Rules[0].Bands[0].Max, ShouldBeNil)

			s := New()
			So(s.SetRules(rs), ShouldBeNil)
			a := s.Score(extract(model.KeyDown(0, "a")), nil, model.DeviceSignal{VPN: true})
			So(a.Score, ShouldEqual, 30)
			So(a.Action, ShouldEqual, types.ActionSoftChallenge)
		})

		Convey("The default table survives a YAML round trip", func() {
			raw, err := DefaultRules().Marshal()
			So(err, ShouldBeNil)
			back, err := ParseRules(raw)
			So(err, ShouldBeNil)
			So(back, ShouldResemble, DefaultRules())
		})
	})

	Convey("Malformed YAML is rejected and the active table kept", t, func() {
		s := New()
		_, err := ParseRules([]byte("rules: [oops"))
		So(errors.Is(err, ErrInvalidRules), ShouldBeTrue)
		So(s.SetRules(RuleSet{}), ShouldNotBeNil)
		So(s.Rules(), ShouldResemble, DefaultRules())
	})
}

func TestScorerConcurrentReload(t *testing.T) {
	Convey("Given concurrent scoring and reloading", t, func() {
		s := New()
		v := extract(scenarioA()...)
		alt := RuleSet{Rules: []Rule{{Signal: SignalVPN, Flag: true, Points: 50}}}

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					a := s.Score(v, nil, model.DeviceSignal{})
					if a.Score != 10 && a.Score != 0 {
						t.Errorf("unexpected score %v", a.Score)
					}
				}
			}()
		}
		for j := 0; j < 50; j++ {
			if j%2 == 0 {
				_ = s.SetRules(alt)
			} else {
				_ = s.SetRules(DefaultRules())
			}
		}
		wg.Wait()
		So(true, ShouldBeTrue)
	})
}

func TestShippedRuleFile(t *testing.T) {
	Convey("The shipped rule file matches the built-in table", t, func() {
		rs, err := LoadRules("../../../configs/rules.yaml")
		So(err, ShouldBeNil)
		So(rs, ShouldResemble, DefaultRules())
	})

	Convey("A missing rule file is an error", t, func() {
		_, err := LoadRules("does-not-exist.yaml")
		So(err, ShouldNotBeNil)
	})
}
