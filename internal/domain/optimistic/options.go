package optimistic

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTolerance bounds the creation-time distance for heuristic matches.
	DefaultTolerance = 2 * time.Minute
	// DefaultMaxPasses is the number of unmatched passes after which an
	// acknowledged entry expires.
	DefaultMaxPasses = 3
)

// Options configures a Ledger.
type Options struct {
	Clock     clockwork.Clock
	Tolerance time.Duration
	MaxPasses int
	NewID     func() string
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = DefaultMaxPasses
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
