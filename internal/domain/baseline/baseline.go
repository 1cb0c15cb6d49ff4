// Package baseline builds, updates and compares per-identity behavioral
// baselines.
package baseline

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/keyprint/internal/domain/features"
	"github.com/okian/keyprint/internal/domain/model"
)

const (
	// DefaultUpdateWeight is the EMA weight of a new session.
	DefaultUpdateWeight = 0.2
	// ReliableAfter is the number of sessions after which a baseline is trusted.
	ReliableAfter = 3
	// MaxZ caps normalized deviations.
	MaxZ = 5.0

	maxFingerprints = 10
	maxCountries    = 20
	maxResolutions  = 10
	maxPattern      = 512
)

// initialSpread is the spread assumed for a feature seen in a single session.
var initialSpread = map[string]float64{
	features.DwellTimeMean:        15,
	features.DwellTimeStd:         5,
	features.FlightTimeMean:       20,
	features.FlightTimeStd:        10,
	features.TypingSpeed:          50,
	features.BackspaceRatio:       0.05,
	features.MouseVelocityMean:    0.3,
	features.PathStraightness:     0.1,
	features.MicroCorrectionRatio: 0.1,
	features.ScrollVelocityMean:   1,
	features.SessionDuration:      2000,
}

// Comparable returns the features tracked by a baseline, sorted.
func Comparable() []string {
	out := make([]string, 0, len(initialSpread))
	for k := range initialSpread {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Stat summarizes one feature across an identity's sessions.
type Stat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Baseline is an identity's behavioral profile.
type Baseline struct {
	Identity          string          `json:"identity"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	SessionCount      int             `json:"session_count"`
	Stats             map[string]Stat `json:"stats"`
	Pattern           []float64       `json:"pattern,omitempty"`
	KnownFingerprints []string        `json:"known_fingerprints,omitempty"`
	KnownCountries    []string        `json:"known_countries,omitempty"`
	KnownResolutions  []string        `json:"known_resolutions,omitempty"`
}

// Sample is one training session as seen by the baseline.
type Sample struct {
	Vector  features.Vector
	Device  model.DeviceSignal
	Pattern []float64
}

// Establish builds a fresh baseline from one or more samples. Features seen
// in a single sample get an initial spread estimate.
func Establish(identity string, now time.Time, samples ...Sample) (Baseline, error) {
	if identity == "" {
		return Baseline{}, ErrNoIdentity
	}
	if len(samples) == 0 {
		return Baseline{}, ErrNoSamples
	}
	b := Baseline{
		Identity:     identity,
		CreatedAt:    now,
		UpdatedAt:    now,
		SessionCount: len(samples),
		Stats:        map[string]Stat{},
	}
	for _, name := range Comparable() {
		var xs []float64
		for _, s := range samples {
			if x, ok := s.Vector.Float(name); ok {
				xs = append(xs, x)
			}
		}
		switch len(xs) {
		case 0:
			continue
		case 1:
			b.Stats[name] = Stat{Mean: xs[0], Std: seedSpread(name, samples[0].Vector)}
		default:
			m, sd := stat.PopMeanStdDev(xs, nil)
			b.Stats[name] = Stat{Mean: m, Std: sd}
		}
	}
	for _, s := range samples {
		b.remember(s.Device)
	}
	b.Pattern = clip(samples[len(samples)-1].Pattern, maxPattern)
	return b, nil
}

// seedSpread uses the session's own dwell spread for the dwell mean when it
// has one.
func seedSpread(name string, v features.Vector) float64 {
	if name == features.DwellTimeMean {
		if sd, ok := v.Float(features.DwellTimeStd); ok && sd > 0 {
			return sd
		}
	}
	return initialSpread[name]
}

// Update folds a verified session into b with an exponential moving average
// and returns the result. b is not modified.
func Update(b Baseline, s Sample, now time.Time, weight float64) Baseline {
	if weight <= 0 || weight > 1 {
		weight = DefaultUpdateWeight
	}
	ema := func(old, x float64) float64 { return (1-weight)*old + weight*x }

	out := b.Clone()
	if out.Stats == nil {
		out.Stats = map[string]Stat{}
	}
	for _, name := range Comparable() {
		x, ok := s.Vector.Float(name)
		if !ok {
			continue
		}
		st, seen := out.Stats[name]
		if !seen {
			out.Stats[name] = Stat{Mean: x, Std: seedSpread(name, s.Vector)}
			continue
		}
		out.Stats[name] = Stat{Mean: ema(st.Mean, x), Std: ema(st.Std, math.Abs(x-st.Mean))}
	}
	out.remember(s.Device)
	if len(s.Pattern) > 0 {
		out.Pattern = clip(s.Pattern, maxPattern)
	}
	out.SessionCount++
	out.UpdatedAt = now
	return out
}

// Reliable reports whether enough sessions back the baseline.
func (b Baseline) Reliable() bool { return b.SessionCount >= ReliableAfter }

// NewFingerprint reports whether fp is non-empty and not seen before.
func (b Baseline) NewFingerprint(fp string) bool {
	return fp != "" && !slices.Contains(b.KnownFingerprints, fp)
}

// NewCountry reports whether c is non-empty and not seen before.
func (b Baseline) NewCountry(c string) bool {
	return c != "" && !slices.Contains(b.KnownCountries, c)
}

// NewResolution reports whether r is non-empty and not seen before.
func (b Baseline) NewResolution(r string) bool {
	return r != "" && !slices.Contains(b.KnownResolutions, r)
}

// Clone returns a deep copy.
func (b Baseline) Clone() Baseline {
	out := b
	if b.Stats != nil {
		out.Stats = make(map[string]Stat, len(b.Stats))
		for k, v := range b.Stats {
			out.Stats[k] = v
		}
	}
	out.Pattern = slices.Clone(b.Pattern)
	out.KnownFingerprints = slices.Clone(b.KnownFingerprints)
	out.KnownCountries = slices.Clone(b.KnownCountries)
	out.KnownResolutions = slices.Clone(b.KnownResolutions)
	return out
}

func (b *Baseline) remember(d model.DeviceSignal) {
	b.KnownFingerprints = appendRecent(b.KnownFingerprints, d.Fingerprint, maxFingerprints)
	b.KnownCountries = appendRecent(b.KnownCountries, d.Country, maxCountries)
	b.KnownResolutions = appendRecent(b.KnownResolutions, d.ScreenResolution, maxResolutions)
}

// appendRecent adds v once and keeps the newest limit entries.
func appendRecent(list []string, v string, limit int) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	list = append(list, v)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

func clip(xs []float64, n int) []float64 {
	if len(xs) > n {
		xs = xs[len(xs)-n:]
	}
	return slices.Clone(xs)
}

// Deviation is the normalized distance of one feature from its baseline.
type Deviation struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Z       float64 `json:"z"`
}

// Compare returns one deviation per feature defined in both v and b, sorted
// by feature name. A zero spread turns any difference into MaxZ.
func Compare(b Baseline, v features.Vector) []Deviation {
	var out []Deviation
	for _, name := range Comparable() {
		st, ok := b.Stats[name]
		if !ok {
			continue
		}
		x, ok := v.Float(name)
		if !ok {
			continue
		}
		out = append(out, Deviation{Feature: name, Value: x, Mean: st.Mean, Std: st.Std, Z: zScore(x, st)})
	}
	return out
}

func zScore(x float64, st Stat) float64 {
	d := math.Abs(x - st.Mean)
	if st.Std <= 0 || math.IsNaN(st.Std) {
		if d == 0 {
			return 0
		}
		return MaxZ
	}
	return math.Min(d/st.Std, MaxZ)
}

// String is used in logs.
func (d Deviation) String() string {
	return fmt.Sprintf("%s z=%.2f", d.Feature, d.Z)
}
