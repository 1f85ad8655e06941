package classify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ganot/desksync/internal/domain/scope"
)

// HeldFunc reports whether the client currently observes a scope.
type HeldFunc func(scope.Scope) bool

// Classifier assigns priority and scope to push events.
type Classifier struct {
	rules  map[string]Rule
	held   HeldFunc
	logger *slog.Logger
}

// NewClassifier creates a classifier. A nil rules map uses DefaultRules.
func NewClassifier(held HeldFunc, rules map[string]Rule, logger *slog.Logger) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{rules: rules, held: held, logger: logger}
}

// Classify maps ev onto a reconcile request, a removal, or a drop.
// Removals are returned regardless of membership: the view may still
// show the entity through another scope.
func (c *Classifier) Classify(ev PushEvent) Result {
	rule, ok := c.rules[ev.Type]
	if !ok {
		c.logger.Debug("dropping push event", "type", ev.Type, "reason", "unknown tag")
		return Result{Outcome: OutcomeDrop, Err: fmt.Errorf("%w: %q", ErrUnknownTag, ev.Type)}
	}

	sc, err := scopeFor(rule, ev.Payload)
	if err != nil {
		c.logger.Warn("dropping push event", "type", ev.Type, "error", err)
		return Result{Outcome: OutcomeDrop, Err: err}
	}

	if rule.Remove {
		removal := Removal{Type: ev.Type, Scope: sc}
		if rule.EntityField != "" {
			id, ok := payloadID(ev.Payload, rule.EntityField)
			if !ok {
				return Result{Outcome: OutcomeDrop, Err: fmt.Errorf("%w: %s", ErrMissingScope, rule.EntityField)}
			}
			removal.EntityID = id
		}
		return Result{Outcome: OutcomeRemove, Removal: removal}
	}

	if c.held != nil && !c.held(sc) {
		return Result{Outcome: OutcomeDrop, Err: fmt.Errorf("%w: %s", ErrNotHeld, sc)}
	}
	return Result{
		Outcome: OutcomeReconcile,
		Event: ClassifiedEvent{
			PushEvent: ev,
			Priority:  rule.Priority,
			Scope:     sc,
		},
	}
}

func scopeFor(rule Rule, payload map[string]any) (scope.Scope, error) {
	if rule.Kind == scope.KindGlobal {
		return scope.Global, nil
	}
	id, ok := payloadID(payload, rule.IDField)
	if !ok {
		return scope.Scope{}, fmt.Errorf("%w: %s", ErrMissingScope, rule.IDField)
	}
	sc := scope.Scope{Kind: rule.Kind, ID: id}
	if !sc.Valid() {
		return scope.Scope{}, fmt.Errorf("%w: %s", ErrMissingScope, sc)
	}
	return sc, nil
}

// payloadID reads an integer id that may have been decoded as a JSON
// number, a json.Number, or a numeric string.
func payloadID(payload map[string]any, field string) (int64, bool) {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}
