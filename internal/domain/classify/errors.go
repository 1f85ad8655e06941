package classify

import "errors"

var (
	// ErrUnknownTag indicates an event tag with no classification rule.
	ErrUnknownTag = errors.New("unknown event tag")
	// ErrNotHeld indicates an event for a scope the client does not observe.
	ErrNotHeld = errors.New("scope not held")
	// ErrMissingScope indicates a payload without a usable scope id.
	ErrMissingScope = errors.New("payload has no scope id")
)
