package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedScope indicates a scope the API has no endpoint for.
	ErrUnsupportedScope = errors.New("unsupported scope")
	// ErrServer matches every HTTPError with a 5xx status.
	ErrServer = errors.New("server error")
)

// HTTPError is a non-2xx response. Message carries the server's
// {message} body when present.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrServer && e.StatusCode >= 500
}
