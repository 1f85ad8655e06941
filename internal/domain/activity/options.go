package activity

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// Options configures a Registry.
type Options struct {
	Clock clockwork.Clock
	// OnMalformed is called when persisted state is unreadable and was
	// treated as empty.
	OnMalformed func(error)
	Logger      *slog.Logger
}
