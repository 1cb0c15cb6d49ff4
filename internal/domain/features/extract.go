package features

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/keyprint/internal/domain/model"
)

const (
	// IdleThresholdMS is the inter-event gap above which time counts as idle.
	IdleThresholdMS = 2000.0
	// MicroCorrectionPX is the segment length below which a pointer move is jitter.
	MicroCorrectionPX = 3.0
	// MinTypingWindowMS clamps the typing speed denominator.
	MinTypingWindowMS = 1000.0

	backspaceKey = "backspace"
	msPerMinute  = 60_000.0
)

// Extract computes the feature vector of a stopped session. It is pure: the
// same session always yields a bit-identical vector.
func Extract(s model.Session) Vector {
	values := make(map[string]Value, len(Names))
	for _, n := range Names {
		values[n] = Value{}
	}
	values[CopyPaste] = Flag(false)
	if s.Empty() {
		return Vector{values: values}
	}

	var (
		first, last, prevTS float64
		started             bool
		idle                float64

		keyDowns, backspaces int
		lastDown             float64
		haveDown             bool
		pending              = map[string]float64{}
		dwells, flights      []float64

		clipboard bool

		havePtr         bool
		px, py, pts     float64
		fx, fy          float64
		pathLen         float64
		segments, micro int
		velocities      []float64

		haveScroll   bool
		sOff, sTS    float64
		scrollSpeeds []float64
	)

	s.Each(func(e model.Event) {
		if e.Validate() != nil {
			return
		}
		if !started {
			first, started = e.TS, true
		} else if gap := e.TS - prevTS; gap > IdleThresholdMS {
			idle += gap
		}
		prevTS, last = e.TS, e.TS

		switch e.Kind {
		case model.KindKeyDown:
			keyDowns++
			if strings.EqualFold(e.Key, backspaceKey) {
				backspaces++
			}
			if haveDown {
				flights = append(flights, e.TS-lastDown)
			}
			lastDown, haveDown = e.TS, true
			if _, held := pending[e.Key]; !held {
				pending[e.Key] = e.TS
			}
		case model.KindKeyUp:
			if down, held := pending[e.Key]; held {
				dwells = append(dwells, e.TS-down)
				delete(pending, e.Key)
			}
		case model.KindPointerMove:
			x, y := *e.X, *e.Y
			if !havePtr {
				fx, fy, havePtr = x, y, true
			} else {
				d := math.Hypot(x-px, y-py)
				pathLen += d
				segments++
				if d < MicroCorrectionPX {
					micro++
				}
				if dt := e.TS - pts; dt > 0 {
					velocities = append(velocities, d/dt)
				}
			}
			px, py, pts = x, y, e.TS
		case model.KindScroll:
			if haveScroll {
				if dt := e.TS - sTS; dt > 0 {
					scrollSpeeds = append(scrollSpeeds, math.Abs(*e.Offset-sOff)/dt)
				}
			}
			sOff, sTS, haveScroll = *e.Offset, e.TS, true
		case model.KindPaste, model.KindCopy:
			clipboard = true
		}
	})

	duration := last - first
	values[SessionDuration] = Some(duration)
	values[IdleTime] = Some(idle)
	if duration > 0 {
		values[IdleTimeRatio] = Some(math.Min(idle/duration, 1))
	}
	values[CopyPaste] = Flag(clipboard)

	values[KeyCount] = Some(float64(keyDowns))
	values[BackspaceRatio] = Some(0)
	if keyDowns > 0 {
		values[BackspaceRatio] = Some(float64(backspaces) / float64(keyDowns))
		values[TypingSpeed] = Some(float64(keyDowns) / (math.Max(duration, MinTypingWindowMS) / msPerMinute))
	}
	values[DwellTimeMean], values[DwellTimeStd] = summarize(dwells)
	values[FlightTimeMean], values[FlightTimeStd] = summarize(flights)

	if havePtr {
		values[MouseTotalDistance] = Some(pathLen)
		values[MicroCorrections] = Some(float64(micro))
		values[PathStraightness] = Some(0)
		if pathLen > 0 {
			values[PathStraightness] = Some(math.Min(math.Hypot(px-fx, py-fy)/pathLen, 1))
		}
		if segments > 0 {
			values[MicroCorrectionRatio] = Some(float64(micro) / float64(segments))
		}
	}
	values[MouseVelocityMean], values[MouseVelocityStd] = summarize(velocities)
	values[ScrollVelocityMean], _ = summarize(scrollSpeeds)

	return Vector{values: values}
}

// Intervals returns the KeyDown-to-KeyDown intervals of s in arrival order.
// Baselines keep them as the raw typing pattern.
func Intervals(s model.Session) []float64 {
	var (
		out  []float64
		last float64
		seen bool
	)
	s.Each(func(e model.Event) {
		if e.Kind != model.KindKeyDown || e.Validate() != nil {
			return
		}
		if seen {
			out = append(out, e.TS-last)
		}
		last, seen = e.TS, true
	})
	return out
}

// summarize returns the mean (at least one sample) and population standard
// deviation (at least two samples) of xs.
func summarize(xs []float64) (mean, std Value) {
	switch len(xs) {
	case 0:
		return Value{}, Value{}
	case 1:
		return Some(xs[0]), Value{}
	}
	m, sd := stat.PopMeanStdDev(xs, nil)
	return Some(m), Some(sd)
}
