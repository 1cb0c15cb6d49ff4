package capture

import "time"

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxEvents bounds the number of events kept per session.
func WithMaxEvents(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxEvents = n
		}
	}
}

// WithClock overrides the clock used for StartedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}
