package reconcile

import (
	"time"

	"github.com/ganot/desksync/internal/domain/classify"
	"github.com/ganot/desksync/internal/domain/scope"
)

// State is the reconciliation state of one scope.
type State int

const (
	StateIdle State = iota
	StatePendingDebounce
	StateFetching
)

func (s State) String() string {
	switch s {
	case StatePendingDebounce:
		return "pending"
	case StateFetching:
		return "fetching"
	default:
		return "idle"
	}
}

// RefetchRequest asks the engine to fetch authoritative state for a scope.
// Seq identifies the request when its completion is reported back.
type RefetchRequest struct {
	Scope       scope.Scope
	Reason      string
	Priority    classify.Priority
	RequestedAt time.Time
	Seq         uint64
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
