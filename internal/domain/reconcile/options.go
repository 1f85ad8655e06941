package reconcile

import (
	"log/slog"
	"time"

	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/jonboulle/clockwork"
)

// DefaultWindow is the coalescing window for normal-priority events.
const DefaultWindow = 300 * time.Millisecond

// Options configures a Scheduler.
type Options struct {
	Clock clockwork.Clock
	// Window is the fixed coalescing window for normal-priority events.
	Window time.Duration
	// Dispatch starts a refetch. It is called on the scheduler's goroutine
	// and must not block.
	Dispatch func(RefetchRequest)
	// Post runs a timer callback on the goroutine that owns the scheduler.
	// Nil runs it inline on the timer goroutine.
	Post func(func())
	// OnState is called after a scope changes state.
	OnState func(scope.Scope, State)
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Post == nil {
		o.Post = func(f func()) { f() }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
