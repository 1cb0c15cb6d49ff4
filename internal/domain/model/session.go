package model

import "time"

// Session is the immutable result of one tracking interval. Events are in
// non-decreasing timestamp order.
type Session struct {
	ID        string
	StartedAt time.Time
	Dropped   int
	Truncated bool

	events []Event
}

// NewSession wraps events, taking ownership of the slice.
func NewSession(id string, startedAt time.Time, events []Event) Session {
	return Session{ID: id, StartedAt: startedAt, events: events}
}

// Events returns a copy of the captured events.
func (s Session) Events() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Each calls fn for every event in order without copying.
func (s Session) Each(fn func(Event)) {
	for _, e := range s.events {
		fn(e)
	}
}

// Len returns the number of captured events.
func (s Session) Len() int { return len(s.events) }

// Empty reports whether nothing was captured.
func (s Session) Empty() bool { return len(s.events) == 0 }

// DeviceSignal is device and network context supplied by the host.
// GeoDistanceKM is nil when the host could not compute it.
type DeviceSignal struct {
	Fingerprint      string   `json:"fingerprint,omitempty"`
	ScreenResolution string   `json:"screen_resolution,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	Country          string   `json:"country,omitempty"`
	GeoDistanceKM    *float64 `json:"geo_distance_km,omitempty"`
	VPN              bool     `json:"vpn"`
}
