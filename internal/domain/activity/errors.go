package activity

import "errors"

var (
	// ErrMalformedState indicates persisted registry state that could not be
	// decoded. Callers treat it as empty.
	ErrMalformedState = errors.New("malformed local state")
	// ErrInvalidInput is returned when a user or conversation id is missing.
	ErrInvalidInput = errors.New("invalid input")

	errUnchanged = errors.New("registry unchanged")
)
