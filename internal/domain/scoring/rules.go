package scoring

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/okian/keyprint/internal/domain/baseline"
	"github.com/okian/keyprint/internal/domain/features"
)

// Signal names beyond the feature names.
const (
	SignalVPN            = "device.vpn"
	SignalGeoDistance    = "device.geo_distance_km"
	SignalNewFingerprint = "device.new_fingerprint"
	SignalNewCountry     = "device.new_country"
	SignalNewResolution  = "device.new_resolution"
	SignalHighDeviations = "deviation.high_count"

	deviationPrefix = "deviation."
)

// HighDeviationZ is the z-score from which a deviation counts toward
// SignalHighDeviations.
const HighDeviationZ = 2.5

// DeviationSignal names the normalized deviation of a baseline feature.
func DeviationSignal(feature string) string { return deviationPrefix + feature }

// RequiresBaseline reports whether a signal only exists when the identity
// has a baseline.
func RequiresBaseline(signal string) bool {
	switch signal {
	case SignalNewFingerprint, SignalNewCountry, SignalNewResolution:
		return true
	}
	return strings.HasPrefix(signal, deviationPrefix)
}

// Band is a half-open interval [Min, Max) of a signal. A nil bound is
// unbounded on that side.
type Band struct {
	Label  string   `yaml:"label" json:"label"`
	Min    *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Points float64  `yaml:"points" json:"points"`
}

// Contains reports whether x falls in the band.
func (b Band) Contains(x float64) bool {
	if b.Min != nil && x < *b.Min {
		return false
	}
	if b.Max != nil && x >= *b.Max {
		return false
	}
	return true
}

// Rule awards points for one signal. Flag rules award Points when the signal
// is non-zero; band rules award the points of every band containing it.
type Rule struct {
	Signal string  `yaml:"signal" json:"signal"`
	Flag   bool    `yaml:"flag,omitempty" json:"flag,omitempty"`
	Points float64 `yaml:"points,omitempty" json:"points,omitempty"`
	Bands  []Band  `yaml:"bands,omitempty" json:"bands,omitempty"`
}

// RuleSet is the policy table consumed by the scorer.
type RuleSet struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Validate checks that every rule names a known signal once and that every
// band is well formed.
func (rs RuleSet) Validate() error {
	if len(rs.Rules) == 0 {
		return fmt.Errorf("%w: no rules", ErrInvalidRules)
	}
	seen := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		if !knownSignal(r.Signal) {
			return fmt.Errorf("%w: rule %d: unknown signal %q", ErrInvalidRules, i, r.Signal)
		}
		if seen[r.Signal] {
			return fmt.Errorf("%w: rule %d: duplicate signal %q", ErrInvalidRules, i, r.Signal)
		}
		seen[r.Signal] = true

		if r.Flag {
			if len(r.Bands) > 0 {
				return fmt.Errorf("%w: rule %q: flag rules take points, not bands", ErrInvalidRules, r.Signal)
			}
			if !finite(r.Points) {
				return fmt.Errorf("%w: rule %q: points must be finite", ErrInvalidRules, r.Signal)
			}
			continue
		}
		if len(r.Bands) == 0 {
			return fmt.Errorf("%w: rule %q: no bands", ErrInvalidRules, r.Signal)
		}
		for j, b := range r.Bands {
			switch {
			case b.Min == nil && b.Max == nil:
				return fmt.Errorf("%w: rule %q band %d: unbounded on both sides", ErrInvalidRules, r.Signal, j)
			case b.Min != nil && b.Max != nil && *b.Min >= *b.Max:
				return fmt.Errorf("%w: rule %q band %d: min must be below max", ErrInvalidRules, r.Signal, j)
			case !finite(b.Points):
				return fmt.Errorf("%w: rule %q band %d: points must be finite", ErrInvalidRules, r.Signal, j)
			}
		}
	}
	return nil
}

func knownSignal(s string) bool {
	switch s {
	case SignalVPN, SignalGeoDistance, SignalNewFingerprint, SignalNewCountry, SignalNewResolution, SignalHighDeviations:
		return true
	}
	if f, ok := strings.CutPrefix(s, deviationPrefix); ok {
		for _, c := range baseline.Comparable() {
			if c == f {
				return true
			}
		}
		return false
	}
	for _, n := range features.Names {
		if n == s {
			return true
		}
	}
	return false
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// ParseRules decodes and validates a YAML rule table.
func ParseRules(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// LoadRules reads a YAML rule table from path.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// Marshal renders rs as YAML.
func (rs RuleSet) Marshal() ([]byte, error) {
	return yaml.Marshal(rs)
}

func ptr(f float64) *float64 { return &f }

func above(label string, minimum, points float64) Band {
	return Band{Label: label, Min: ptr(minimum), Points: points}
}

func below(label string, maximum, points float64) Band {
	return Band{Label: label, Max: ptr(maximum), Points: points}
}

func between(label string, minimum, maximum, points float64) Band {
	return Band{Label: label, Min: ptr(minimum), Max: ptr(maximum), Points: points}
}

// DefaultRules returns the built-in rule table.
func DefaultRules() RuleSet {
	return RuleSet{Rules: []Rule{
		// Absolute behavior
		{Signal: features.TypingSpeed, Bands: []Band{between("medium", 600, 800, 10), above("high", 800, 20)}},
		{Signal: features.DwellTimeMean, Bands: []Band{below("high", 30, 15)}},
		{Signal: features.DwellTimeStd, Bands: []Band{below("medium", 5, 5)}},
		{Signal: features.FlightTimeStd, Bands: []Band{below("medium", 5, 5)}},
		{Signal: features.BackspaceRatio, Bands: []Band{between("medium", 0.2, 0.4, 5), above("high", 0.4, 10)}},
		{Signal: features.CopyPaste, Flag: true, Points: 10},
		{Signal: features.MouseVelocityMean, Bands: []Band{between("medium", 3, 5, 5), above("high", 5, 15)}},
		{Signal: features.PathStraightness, Bands: []Band{above("high", 0.98, 15)}},
		{Signal: features.MicroCorrectionRatio, Bands: []Band{below("medium", 0.05, 5)}},
		{Signal: features.IdleTimeRatio, Bands: []Band{above("medium", 0.5, 5)}},
		{Signal: features.ScrollVelocityMean, Bands: []Band{above("high", 10, 10)}},

		// Device and network
		{Signal: SignalVPN, Flag: true, Points: 10},
		{Signal: SignalGeoDistance, Bands: []Band{between("medium", 500, 3000, 10), above("high", 3000, 20)}},
		{Signal: SignalNewFingerprint, Flag: true, Points: 8},
		{Signal: SignalNewCountry, Flag: true, Points: 12},
		{Signal: SignalNewResolution, Flag: true, Points: 5},

		// Baseline deviation
		{Signal: DeviationSignal(features.DwellTimeMean), Bands: []Band{between("medium", 2, 3, 8), above("high", 3, 15)}},
		{Signal: DeviationSignal(features.FlightTimeMean), Bands: []Band{between("medium", 2, 3, 8), above("high", 3, 15)}},
		{Signal: DeviationSignal(features.FlightTimeStd), Bands: []Band{between("medium", 2, 3, 5), above("high", 3, 10)}},
		{Signal: DeviationSignal(features.TypingSpeed), Bands: []Band{between("medium", 2, 3, 5), above("high", 3, 10)}},
		{Signal: DeviationSignal(features.MouseVelocityMean), Bands: []Band{between("medium", 2, 3, 5), above("high", 3, 10)}},
		{Signal: SignalHighDeviations, Bands: []Band{above("high", 2, 20)}},
	}}
}
