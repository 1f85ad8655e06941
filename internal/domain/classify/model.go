package classify

import (
	"time"

	"github.com/ganot/desksync/internal/domain/scope"
)

// Priority decides whether a refetch may be coalesced.
type Priority int

const (
	// PriorityNormal refetches after the coalescing window.
	PriorityNormal Priority = iota
	// PriorityCritical refetches immediately.
	PriorityCritical
)

func (p Priority) String() string {
	if p == PriorityCritical {
		return "critical"
	}
	return "normal"
}

// PushEvent is a raw event adapted from the push transport.
type PushEvent struct {
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// ClassifiedEvent is a PushEvent with a priority and a target scope.
type ClassifiedEvent struct {
	PushEvent
	Priority Priority
	Scope    scope.Scope
}

// Removal asks the engine to drop an entity from local view state without
// waiting for a refetch. EntityID is zero when the whole scope is gone.
type Removal struct {
	Type     string
	Scope    scope.Scope
	EntityID int64
}

// Outcome says what the engine should do with a classified event.
type Outcome int

const (
	OutcomeDrop Outcome = iota
	OutcomeReconcile
	OutcomeRemove
)

// Result is the output of Classify. Exactly one of Event or Removal is
// meaningful, depending on Outcome. Err explains a drop.
type Result struct {
	Outcome Outcome
	Event   ClassifiedEvent
	Removal Removal
	Err     error
}

// Rule maps one event tag onto a scope and a priority.
type Rule struct {
	Priority Priority
	Kind     scope.Kind
	// IDField names the payload field carrying the scope id. Ignored for
	// the global kind.
	IDField string
	// Remove marks entity-removed tags, which bypass the scheduler.
	Remove bool
	// EntityField names the payload field carrying the removed entity id.
	// Empty means the whole scope was removed.
	EntityField string
}
