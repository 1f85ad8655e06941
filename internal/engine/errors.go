package engine

import "errors"

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("engine closed")
	// ErrRunning is returned when Run is called twice.
	ErrRunning = errors.New("engine already running")
	// ErrNotOpen is returned for operations on a scope nobody opened.
	ErrNotOpen = errors.New("scope not open")
	// ErrEmptyContent is returned when submitting blank text.
	ErrEmptyContent = errors.New("content is empty")
	// ErrReadOnlyScope is returned when submitting to the ticket list.
	ErrReadOnlyScope = errors.New("scope does not accept submissions")
	// ErrScopeDeleted fails local submissions to a ticket deleted on the
	// server.
	ErrScopeDeleted = errors.New("scope was deleted")
)
