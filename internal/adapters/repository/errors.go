package repository

import "errors"

var (
	// ErrNoDB is returned when a PostgresStore is built without a handle.
	ErrNoDB = errors.New("repository: nil database handle")
	// ErrCorruptBaseline is returned when a stored payload cannot be decoded.
	ErrCorruptBaseline = errors.New("repository: corrupt baseline payload")
)
