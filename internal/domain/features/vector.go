// Package features turns a stopped capture session into a fixed-schema
// feature vector.
package features

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Feature names.
const (
	KeyCount             = "key_count"
	DwellTimeMean        = "dwell_time_mean"
	DwellTimeStd         = "dwell_time_std"
	FlightTimeMean       = "flight_time_mean"
	FlightTimeStd        = "flight_time_std"
	TypingSpeed          = "typing_speed"
	BackspaceRatio       = "backspace_ratio"
	CopyPaste            = "copy_paste"
	MouseTotalDistance   = "mouse_total_distance"
	MouseVelocityMean    = "mouse_velocity_mean"
	MouseVelocityStd     = "mouse_velocity_std"
	PathStraightness     = "path_straightness"
	MicroCorrections     = "micro_corrections"
	MicroCorrectionRatio = "micro_correction_ratio"
	ScrollVelocityMean   = "scroll_velocity_mean"
	IdleTime             = "idle_time"
	IdleTimeRatio        = "idle_time_ratio"
	SessionDuration      = "session_duration"
)

// Names lists every feature of the schema in a stable order.
var Names = []string{
	KeyCount,
	DwellTimeMean, DwellTimeStd,
	FlightTimeMean, FlightTimeStd,
	TypingSpeed, BackspaceRatio, CopyPaste,
	MouseTotalDistance, MouseVelocityMean, MouseVelocityStd,
	PathStraightness, MicroCorrections, MicroCorrectionRatio,
	ScrollVelocityMean,
	IdleTime, IdleTimeRatio, SessionDuration,
}

var booleans = map[string]bool{CopyPaste: true}

// IsBoolean reports whether name is a flag feature encoded as 0 or 1.
func IsBoolean(name string) bool { return booleans[name] }

// Value is a feature value that may be undefined.
type Value struct {
	Float float64
	Valid bool
}

// Some wraps a defined value. NaN and infinities are treated as undefined.
func Some(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{Float: f, Valid: true}
}

// Flag encodes a boolean feature.
func Flag(b bool) Value {
	if b {
		return Value{Float: 1, Valid: true}
	}
	return Value{Float: 0, Valid: true}
}

// Vector is an immutable mapping from feature name to value.
type Vector struct {
	values map[string]Value
}

// NewVector copies values into a vector. Unknown names are kept.
func NewVector(values map[string]Value) Vector {
	m := make(map[string]Value, len(values))
	for k, v := range values {
		m[k] = v
	}
	return Vector{values: m}
}

// Get returns the value of name; absent names are undefined.
func (v Vector) Get(name string) Value { return v.values[name] }

// Float returns the value of name and whether it is defined.
func (v Vector) Float(name string) (float64, bool) {
	x := v.values[name]
	return x.Float, x.Valid
}

// Bool returns a flag feature; undefined flags are false.
func (v Vector) Bool(name string) bool {
	x := v.values[name]
	return x.Valid && x.Float != 0
}

// Keys returns the names present in the vector, sorted.
func (v Vector) Keys() []string {
	out := make([]string, 0, len(v.values))
	for k := range v.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (v Vector) Len() int { return len(v.values) }

// Equal reports whether both vectors hold identical values, bit for bit.
func (v Vector) Equal(o Vector) bool {
	if len(v.values) != len(o.values) {
		return false
	}
	for k, a := range v.values {
		b, ok := o.values[k]
		if !ok || a.Valid != b.Valid || math.Float64bits(a.Float) != math.Float64bits(b.Float) {
			return false
		}
	}
	return true
}

// MarshalJSON renders undefined values as null and flags as booleans.
func (v Vector) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.values))
	for k, x := range v.values {
		switch {
		case !x.Valid:
			out[k] = nil
		case booleans[k]:
			out[k] = x.Float != 0
		default:
			out[k] = x.Float
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the shape produced by MarshalJSON.
func (v *Vector) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v.values = make(map[string]Value, len(raw))
	for k, x := range raw {
		switch t := x.(type) {
		case nil:
			v.values[k] = Value{}
		case bool:
			v.values[k] = Flag(t)
		case float64:
			v.values[k] = Some(t)
		default:
			return fmt.Errorf("feature %q: unsupported value %T", k, x)
		}
	}
	return nil
}
