package optimistic

import "errors"

// ErrExpired marks an entry that was never confirmed by the server.
var ErrExpired = errors.New("optimistic entry was not confirmed by the server")
