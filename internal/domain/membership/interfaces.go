package membership

import (
	"context"

	"github.com/ganot/desksync/internal/domain/scope"
)

// RoomTransport issues room commands on the push transport.
type RoomTransport interface {
	Join(ctx context.Context, s scope.Scope) error
	Leave(ctx context.Context, s scope.Scope) error
}
