package transcript

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultCadence is the minimum spacing of interim notifications.
const DefaultCadence = 250 * time.Millisecond

// Options configures a Buffer.
type Options struct {
	Clock   clockwork.Clock
	Cadence time.Duration
	// Notify receives the current value. It is called without the buffer's
	// lock held, possibly from a timer goroutine.
	Notify func(value string)
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Cadence <= 0 {
		o.Cadence = DefaultCadence
	}
	if o.Notify == nil {
		o.Notify = func(string) {}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
