package membership

import "errors"

var (
	// ErrNotHeld is returned when releasing a scope with no local subscribers.
	ErrNotHeld = errors.New("scope not held")
	// ErrInvalidScope indicates an unusable scope value.
	ErrInvalidScope = errors.New("invalid scope")
)
