package scoring

import "errors"

// ErrInvalidRules is returned when a rule table cannot be used.
var ErrInvalidRules = errors.New("invalid rules")
