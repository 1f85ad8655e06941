package activity

import "context"

// Mutation edits the stored registry. loadErr wraps ErrMalformedState
// when the stored content was unreadable; records is then empty.
type Mutation func(records []Record, loadErr error) ([]Record, error)

// Repository persists the full registry list under one key.
type Repository interface {
	Load(ctx context.Context) ([]Record, error)
	// Update applies fn to the stored list and stores the result as one
	// atomic read-modify-write against the store.
	Update(ctx context.Context, fn Mutation) error
}
