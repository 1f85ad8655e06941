package repository

import (
	"context"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/scope"
)

// StateStore persists opaque values in the local key/value table.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Update(ctx context.Context, key string, fn func(value string, found bool) (string, error)) error
}

// ActivityRepository persists the active-conversation registry.
type ActivityRepository interface {
	activity.Repository
}

// RoomTransport issues room commands on the push transport.
type RoomTransport interface {
	Join(ctx context.Context, s scope.Scope) error
	Leave(ctx context.Context, s scope.Scope) error
}

// Backend is the authoritative desk API.
type Backend interface {
	List(ctx context.Context, s scope.Scope) ([]entity.Record, error)
	Submit(ctx context.Context, s scope.Scope, content, clientRef string) (entity.Record, error)
}
