package service

import "errors"

var (
	// ErrSessionNotFound is returned for unknown, finished or expired sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the open-session limit is reached.
	ErrTooManySessions = errors.New("too many open sessions")
	// ErrInvalidIdentity is returned when a session has no identity.
	ErrInvalidIdentity = errors.New("identity is required")
	// ErrInvalidPurpose is returned for unknown session purposes.
	ErrInvalidPurpose = errors.New("invalid session purpose")
	// ErrPurposeMismatch is returned when a live session is enrolled or a
	// training session is assessed.
	ErrPurposeMismatch = errors.New("operation does not match session purpose")
	// ErrEmptySession is returned when enrolling a session with no events.
	ErrEmptySession = errors.New("session captured no events")
	// ErrBaselineStore wraps baseline store failures surfaced to callers.
	ErrBaselineStore = errors.New("baseline store failure")
)
