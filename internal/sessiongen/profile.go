// Package sessiongen drives a running keyprint server with synthetic human
// and bot sessions and tallies the decisions it returns.
package sessiongen

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/okian/keyprint/internal/domain/model"
)

// Actor names who produced a generated session.
type Actor string

const (
	ActorHuman Actor = "human"
	ActorBot   Actor = "bot"
)

// span is a closed range sampled uniformly.
type span struct{ lo, hi float64 }

func (s span) draw(r *rand.Rand) float64 { return s.lo + r.Float64()*(s.hi-s.lo) }

// Profile shapes the timing and motion of generated sessions.
type Profile struct {
	Actor Actor

	Keys      int
	Dwell     span // key hold, ms
	DwellStd  span // per-session jitter around one drawn dwell and flight
	Flight    span // key up to next key down, ms
	Backspace float64

	Moves        int
	Velocity     span // px per ms
	MoveInterval float64
	Straight     bool
	MicroEvery   int // one sub-3px correction every n moves; 0 disables

	VPN        float64 // probability of a VPN exit
	Datacenter float64 // probability of a far-away datacenter origin
}

// HumanProfile types at a few hundred characters per minute and moves the
// pointer along curved paths with small corrections.
func HumanProfile() Profile {
	return Profile{
		Actor:        ActorHuman,
		Keys:         40,
		Dwell:        span{60, 130},
		Flight:       span{80, 180},
		Backspace:    0.04,
		Moves:        50,
		Velocity:     span{0.6, 2.0},
		MoveInterval: 16,
		MicroEvery:   4,
		VPN:          0.05,
	}
}

// BotProfile types with near-constant short holds at 900 to 2000
// characters per minute and moves in straight, fast lines.
func BotProfile() Profile {
	return Profile{
		Actor:        ActorBot,
		Keys:         60,
		Dwell:        span{8, 25},
		DwellStd:     span{0.5, 4},
		Flight:       span{15, 40},
		Moves:        30,
		Velocity:     span{6, 20},
		MoveInterval: 5,
		Straight:     true,
		VPN:          0.85,
		Datacenter:   0.85,
	}
}

// Generator produces reproducible sessions from a seed.
type Generator struct {
	r *rand.Rand
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Events renders one session of p. Pointer movement comes first, then
// typing, with no pause long enough to count as idle.
func (g *Generator) Events(p Profile) []model.Event {
	out := make([]model.Event, 0, p.Moves+2*p.Keys)
	ts := 0.0

	x, y := 200+g.r.Float64()*400, 200+g.r.Float64()*300
	heading := g.r.Float64() * 2 * math.Pi
	velocity := p.Velocity.draw(g.r)
	for i := 0; i < p.Moves; i++ {
		out = append(out, model.PointerMove(ts, round(x), round(y)))
		ts += p.MoveInterval
		step := velocity * p.MoveInterval
		if p.MicroEvery > 0 && i%p.MicroEvery == p.MicroEvery-1 {
			step = 1 + g.r.Float64()
		}
		if !p.Straight {
			heading += (g.r.Float64() - 0.5) * 0.6
		}
		x += step * math.Cos(heading)
		y += step * math.Sin(heading)
	}

	// A positive spread pins timing to one drawn value per session.
	dwell, flight := p.Dwell.draw(g.r), p.Flight.draw(g.r)
	spread := p.DwellStd.draw(g.r)
	for i := 0; i < p.Keys; i++ {
		key := string(rune('a' + g.r.IntN(26)))
		if g.r.Float64() < p.Backspace {
			key = "Backspace"
		}
		var hold, gap float64
		if spread > 0 {
			hold = math.Max(1, dwell+g.r.NormFloat64()*spread)
			gap = math.Max(1, flight+g.r.NormFloat64()*spread)
		} else {
			hold, gap = p.Dwell.draw(g.r), p.Flight.draw(g.r)
		}
		out = append(out, model.KeyDown(ts, key), model.KeyUp(round(ts+hold), key))
		ts = round(ts + hold + gap)
	}
	return out
}

// HomeDevice returns the device an identity enrolls from.
func (g *Generator) HomeDevice(identity string) model.DeviceSignal {
	return model.DeviceSignal{
		Fingerprint:      "fp-" + identity,
		ScreenResolution: "1920x1080",
		Timezone:         "Europe/Berlin",
		Country:          "DE",
		GeoDistanceKM:    ptr(round(g.r.Float64() * 40)),
	}
}

// Device returns the device a session of p reports for identity. Humans
// stay on their home device; bots mostly come from elsewhere.
func (g *Generator) Device(p Profile, identity string) model.DeviceSignal {
	d := g.HomeDevice(identity)
	d.VPN = g.r.Float64() < p.VPN
	if p.Actor == ActorHuman {
		return d
	}
	d.Fingerprint = "fp-" + strconv.FormatUint(g.r.Uint64(), 36)
	d.ScreenResolution = fmt.Sprintf("%dx%d", 800+g.r.IntN(4)*160, 600+g.r.IntN(4)*120)
	if g.r.Float64() < p.Datacenter {
		d.Country = "US"
		d.Timezone = "UTC"
		d.GeoDistanceKM = ptr(round(3000 + g.r.Float64()*6000))
	}
	return d
}

func round(f float64) float64 { return math.Round(f*100) / 100 }

func ptr(f float64) *float64 { return &f }
