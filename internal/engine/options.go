package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/membership"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/jonboulle/clockwork"
)

// Backend is the authoritative desk API.
type Backend interface {
	List(ctx context.Context, s scope.Scope) ([]entity.Record, error)
	Submit(ctx context.Context, s scope.Scope, content, clientRef string) (entity.Record, error)
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultRoomTimeout    = 5 * time.Second
	recentErrorLimit      = 20
	opsBacklog            = 1024
)

// Options configures an Engine.
type Options struct {
	Identity Identity
	Backend  Backend
	// Rooms issues join/leave on the push transport. Nil disables rooms.
	Rooms membership.RoomTransport
	// Activity persists the active-conversation registry. Nil disables it.
	Activity activity.Repository
	Clock    clockwork.Clock

	CoalesceWindow    time.Duration
	TranscriptCadence time.Duration
	MatchTolerance    time.Duration
	MaxPasses         int
	RequestTimeout    time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
