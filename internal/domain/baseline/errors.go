package baseline

import "errors"

var (
	// ErrNotFound is returned by a Store when no baseline exists for an identity.
	ErrNotFound = errors.New("baseline not found")
	// ErrNoSamples is returned when establishing a baseline from nothing.
	ErrNoSamples = errors.New("no training samples")
	// ErrNoIdentity is returned when the identity is empty.
	ErrNoIdentity = errors.New("identity is required")
)
