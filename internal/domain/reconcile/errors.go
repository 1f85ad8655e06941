package reconcile

import "errors"

var (
	// ErrFetchFailed wraps a failed refetch reported through Complete.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrStaleCompletion indicates a completion for a request that is no
	// longer in flight.
	ErrStaleCompletion = errors.New("stale completion")
)
