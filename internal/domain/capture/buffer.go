// Package capture accumulates raw interaction events for one tracking interval.
//
// A Buffer is owned by a single goroutine and never blocks or performs I/O.
// Callers that share a Buffer across goroutines must serialize access.
package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/okian/keyprint/internal/domain/model"
)

const defaultMaxEvents = 10_000

// RecordResult tells the caller what happened to one event.
type RecordResult int

const (
	Recorded RecordResult = iota
	DroppedInactive
	DroppedMalformed
	DroppedOutOfOrder
	DroppedFull
)

// String returns the metric label of the result.
func (r RecordResult) String() string {
	switch r {
	case Recorded:
		return "recorded"
	case DroppedInactive:
		return "inactive"
	case DroppedMalformed:
		return "malformed"
	case DroppedOutOfOrder:
		return "out_of_order"
	case DroppedFull:
		return "full"
	}
	return "unknown"
}

// Buffer is the event capture buffer. The zero value is not usable; call New.
type Buffer struct {
	maxEvents int
	now       func() time.Time

	active    bool
	id        string
	startedAt time.Time
	events    []model.Event
	dropped   int
	truncated bool
}

// New returns an idle buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{maxEvents: defaultMaxEvents, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start begins a tracking interval. It returns false and changes nothing
// when the buffer is already active.
func (b *Buffer) Start() bool {
	if b.active {
		return false
	}
	b.active = true
	b.id = uuid.NewString()
	b.startedAt = b.now()
	b.events = make([]model.Event, 0, min(b.maxEvents, 256))
	b.dropped = 0
	b.truncated = false
	return true
}

// Record appends e when the buffer is active and e is well formed, in order,
// and within capacity.
func (b *Buffer) Record(e model.Event) RecordResult {
	if !b.active {
		return DroppedInactive
	}
	if e.Validate() != nil {
		b.dropped++
		return DroppedMalformed
	}
	if n := len(b.events); n > 0 && e.TS < b.events[n-1].TS {
		b.dropped++
		return DroppedOutOfOrder
	}
	if len(b.events) >= b.maxEvents {
		b.dropped++
		b.truncated = true
		return DroppedFull
	}
	b.events = append(b.events, e)
	return Recorded
}

// Stop ends the interval and hands the captured session to the caller. The
// buffer keeps no reference to the returned events. Stopping an idle buffer
// returns an empty session.
func (b *Buffer) Stop() model.Session {
	if !b.active {
		return model.Session{}
	}
	s := model.NewSession(b.id, b.startedAt, b.events)
	s.Dropped = b.dropped
	s.Truncated = b.truncated

	b.active = false
	b.events = nil
	b.id = ""
	b.dropped = 0
	b.truncated = false
	return s
}

// Active reports whether events are being accepted.
func (b *Buffer) Active() bool { return b.active }

// ID returns the id of the active session, or "" when idle.
func (b *Buffer) ID() string { return b.id }

// Len returns the number of events captured so far.
func (b *Buffer) Len() int { return len(b.events) }
