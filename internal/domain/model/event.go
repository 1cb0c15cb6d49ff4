// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedEvent reports an event missing its variant payload or carrying
// an unusable timestamp.
var ErrMalformedEvent = errors.New("malformed event")

// Kind tags an interaction event variant.
type Kind string

const (
	KindKeyDown     Kind = "keydown"
	KindKeyUp       Kind = "keyup"
	KindPointerMove Kind = "pointermove"
	KindScroll      Kind = "scroll"
	KindPaste       Kind = "paste"
	KindCopy        Kind = "copy"
)

// Event is one raw interaction event. TS is milliseconds since tracking
// started. Key is set for key events, X/Y for pointer moves and Offset for
// scrolls; they are pointers so a missing payload is detectable.
type Event struct {
	Kind   Kind     `json:"type"`
	TS     float64  `json:"ts"`
	Key    string   `json:"key,omitempty"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Offset *float64 `json:"offset,omitempty"`
}

// KeyDown builds a key press event.
func KeyDown(ts float64, key string) Event { return Event{Kind: KindKeyDown, TS: ts, Key: key} }

// KeyUp builds a key release event.
func KeyUp(ts float64, key string) Event { return Event{Kind: KindKeyUp, TS: ts, Key: key} }

// PointerMove builds a pointer sample.
func PointerMove(ts, x, y float64) Event {
	return Event{Kind: KindPointerMove, TS: ts, X: &x, Y: &y}
}

// Scroll builds a scroll sample.
func Scroll(ts, offset float64) Event {
	return Event{Kind: KindScroll, TS: ts, Offset: &offset}
}

// Paste builds a paste event.
func Paste(ts float64) Event { return Event{Kind: KindPaste, TS: ts} }

// Copy builds a copy event.
func Copy(ts float64) Event { return Event{Kind: KindCopy, TS: ts} }

// Validate checks the event carries the payload of its variant.
func (e Event) Validate() error {
	if math.IsNaN(e.TS) || math.IsInf(e.TS, 0) || e.TS < 0 {
		return fmt.Errorf("%w: timestamp %v", ErrMalformedEvent, e.TS)
	}
	switch e.Kind {
	case KindKeyDown, KindKeyUp:
		if e.Key == "" {
			return fmt.Errorf("%w: %s without key", ErrMalformedEvent, e.Kind)
		}
	case KindPointerMove:
		if e.X == nil || e.Y == nil || !finite(*e.X) || !finite(*e.Y) {
			return fmt.Errorf("%w: pointermove without coordinates", ErrMalformedEvent)
		}
	case KindScroll:
		if e.Offset == nil || !finite(*e.Offset) {
			return fmt.Errorf("%w: scroll without offset", ErrMalformedEvent)
		}
	case KindPaste, KindCopy:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Kind)
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
