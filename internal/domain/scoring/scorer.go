// Package scoring turns a feature vector, an optional baseline and device
// signals into an explainable risk assessment.
package scoring

import (
	"cmp"
	"math"
	"slices"
	"sync/atomic"

	"github.com/okian/keyprint/internal/domain/baseline"
	"github.com/okian/keyprint/internal/domain/decision"
	"github.com/okian/keyprint/internal/domain/features"
	"github.com/okian/keyprint/internal/domain/model"
	"github.com/okian/keyprint/internal/domain/types"
)

const (
	minScore = 0
	maxScore = 100
)

// Factor is one rule contribution to a score.
type Factor struct {
	Signal string  `json:"signal"`
	Band   string  `json:"band"`
	Value  float64 `json:"value"`
	Points float64 `json:"points"`
}

// Assessment is the result of one scoring call.
type Assessment struct {
	Score        float64              `json:"score"`
	Level        types.RiskLevel      `json:"level"`
	Action       types.Action         `json:"action"`
	Factors      []Factor             `json:"factors"`
	BaselineUsed bool                 `json:"baseline_used"`
	Warnings     []string             `json:"warnings,omitempty"`
	Deviations   []baseline.Deviation `json:"deviations,omitempty"`
	Features     features.Vector      `json:"features"`
}

// Scorer applies a rule table. The table can be swapped while scoring runs.
type Scorer struct {
	rules atomic.Pointer[RuleSet]
}

// New returns a scorer using DefaultRules.
func New() *Scorer {
	s := &Scorer{}
	def := DefaultRules()
	s.rules.Store(&def)
	return s
}

// NewWithRules returns a scorer using rs. An invalid table is reported
// rather than replaced by the defaults.
func NewWithRules(rs RuleSet) (*Scorer, error) {
	s := &Scorer{}
	if err := s.SetRules(rs); err != nil {
		return nil, err
	}
	return s, nil
}

// Rules returns the active rule table.
func (s *Scorer) Rules() RuleSet { return *s.rules.Load() }

// SetRules validates rs and makes it the active table.
func (s *Scorer) SetRules(rs RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	s.rules.Store(&rs)
	return nil
}

// Score evaluates every rule once. Without a baseline, baseline-dependent
// rules are omitted and the assessment carries a warning.
func (s *Scorer) Score(v features.Vector, b *baseline.Baseline, d model.DeviceSignal) Assessment {
	rs := s.rules.Load()
	a := Assessment{Features: v, BaselineUsed: b != nil}

	signals := collect(v, d)
	if b != nil {
		a.Deviations = baseline.Compare(*b, v)
		addBaselineSignals(signals, *b, d, a.Deviations)
		if !b.Reliable() {
			a.Warnings = append(a.Warnings, types.WarningBaselineUnreliable)
		}
	} else {
		a.Warnings = append(a.Warnings, types.WarningBaselineUnavailable)
	}

	var total float64
	for _, r := range rs.Rules {
		if b == nil && RequiresBaseline(r.Signal) {
			continue
		}
		val, ok := signals[r.Signal]
		if !ok || !val.Valid {
			continue
		}
		if r.Flag {
			if val.Float != 0 && r.Points != 0 {
				a.Factors = append(a.Factors, Factor{Signal: r.Signal, Band: "flag", Value: val.Float, Points: r.Points})
				total += r.Points
			}
			continue
		}
		for _, band := range r.Bands {
			if band.Points != 0 && band.Contains(val.Float) {
				a.Factors = append(a.Factors, Factor{Signal: r.Signal, Band: band.Label, Value: val.Float, Points: band.Points})
				total += band.Points
			}
		}
	}

	slices.SortStableFunc(a.Factors, func(x, y Factor) int {
		if c := cmp.Compare(y.Points, x.Points); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Signal, y.Signal); c != 0 {
			return c
		}
		return cmp.Compare(x.Band, y.Band)
	})
	if a.Factors == nil {
		a.Factors = []Factor{}
	}

	a.Score = Clamp(total)
	a.Level = decision.Level(a.Score)
	a.Action = decision.Decide(a.Score)
	return a
}

// Clamp bounds a point total to [0, 100]. NaN maps to 100.
func Clamp(total float64) float64 {
	if math.IsNaN(total) {
		return maxScore
	}
	return math.Max(minScore, math.Min(total, maxScore))
}

func collect(v features.Vector, d model.DeviceSignal) map[string]features.Value {
	out := make(map[string]features.Value, len(features.Names)+8)
	for _, n := range features.Names {
		out[n] = v.Get(n)
	}
	out[SignalVPN] = features.Flag(d.VPN)
	if d.GeoDistanceKM != nil {
		out[SignalGeoDistance] = features.Some(*d.GeoDistanceKM)
	}
	return out
}

func addBaselineSignals(out map[string]features.Value, b baseline.Baseline, d model.DeviceSignal, devs []baseline.Deviation) {
	out[SignalNewFingerprint] = features.Flag(b.NewFingerprint(d.Fingerprint))
	out[SignalNewCountry] = features.Flag(b.NewCountry(d.Country))
	out[SignalNewResolution] = features.Flag(b.NewResolution(d.ScreenResolution))
	high := 0
	for _, dev := range devs {
		out[DeviationSignal(dev.Feature)] = features.Some(dev.Z)
		if dev.Z >= HighDeviationZ {
			high++
		}
	}
	out[SignalHighDeviations] = features.Some(float64(high))
}
