package scope

import "errors"

// ErrInvalidScope indicates an unknown kind or a malformed id.
var ErrInvalidScope = errors.New("invalid scope")
