package engine

import (
	"context"

	"github.com/ganot/desksync/internal/domain/classify"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/reconcile"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/transport"
)

var _ transport.Sink = (*Engine)(nil)

// Push accepts an event from the push transport.
func (e *Engine) Push(ev classify.PushEvent) {
	e.post(func() { e.handlePush(ev) })
}

// Connection accepts a connection-state signal from the push transport.
func (e *Engine) Connection(state transport.ConnState) {
	e.post(func() { e.handleConnection(state) })
}

func (e *Engine) handlePush(ev classify.PushEvent) {
	res := e.classifier.Classify(ev)
	switch res.Outcome {
	case classify.OutcomeReconcile:
		e.sched.Trigger(res.Event)
	case classify.OutcomeRemove:
		e.applyRemoval(res.Removal)
	default:
		e.logger.Debug("push event dropped", "type", ev.Type, "reason", res.Err)
	}
}

// applyRemoval drops a deleted entity from the cached views at once. A
// deleted ticket empties its own scope, fails local submissions to it and
// leaves the ticket list.
func (e *Engine) applyRemoval(r classify.Removal) {
	if r.EntityID == 0 {
		e.bury(r.Scope, 0)
		_, cached := e.records[r.Scope]
		if cached {
			e.records[r.Scope] = []entity.Record{}
		}
		if e.failPending(r.Scope, ErrScopeDeleted) > 0 || cached {
			e.publishView(r.Scope)
		}
		if r.Scope.Kind == scope.KindTicket {
			e.bury(scope.Global, r.Scope.ID)
			if e.removeRecord(scope.Global, r.Scope.ID) {
				e.publishView(scope.Global)
			}
			e.forgetActivity(r.Scope)
		}
		return
	}
	e.bury(r.Scope, r.EntityID)
	if e.removeRecord(r.Scope, r.EntityID) {
		e.publishView(r.Scope)
	}
}

// tombstone hides deleted entities from the result of fetches dispatched
// before the deletion.
type tombstone struct {
	before uint64
	ids    map[int64]bool
	all    bool
}

func (t *tombstone) filter(records []entity.Record) []entity.Record {
	if t.all {
		return []entity.Record{}
	}
	kept := make([]entity.Record, 0, len(records))
	for _, rec := range records {
		if !t.ids[rec.ID] {
			kept = append(kept, rec)
		}
	}
	return kept
}

// bury records a deletion that races a fetch of sc already in flight. An
// id of 0 buries the whole scope. A single entity also queues a follow-up
// fetch that observes the deletion.
func (e *Engine) bury(sc scope.Scope, id int64) {
	req, ok := e.sched.InFlight(sc)
	if !ok {
		return
	}
	t := e.removed[sc]
	if t == nil {
		t = &tombstone{ids: map[int64]bool{}}
		e.removed[sc] = t
	}
	t.before = req.Seq
	if id == 0 {
		t.all = true
		return
	}
	t.ids[id] = true
	e.sched.Request(sc, classify.PriorityCritical, "removal")
}

// applyTombstone applies the tombstone of sc to a fetch result. A fetch
// dispatched after the deletion retires it.
func (e *Engine) applyTombstone(req reconcile.RefetchRequest, records []entity.Record) []entity.Record {
	t := e.removed[req.Scope]
	if t == nil {
		return records
	}
	if req.Seq <= t.before {
		return t.filter(records)
	}
	delete(e.removed, req.Scope)
	return records
}

func (e *Engine) failPending(sc scope.Scope, cause error) int {
	n := 0
	for _, entry := range e.ledger.Pending(sc) {
		failed, ok := e.ledger.Fail(entry.LocalID, cause)
		if !ok {
			continue
		}
		n++
		e.report(Report{
			Kind:    KindSubmitFailed,
			Scope:   sc,
			LocalID: failed.LocalID,
			Content: failed.Payload.Content,
			Err:     cause,
		})
	}
	return n
}

func (e *Engine) forgetActivity(sc scope.Scope) {
	if e.registry == nil || e.opts.Identity.UserID == "" {
		return
	}
	e.goBackground(func(ctx context.Context) {
		if err := e.registry.Forget(ctx, e.opts.Identity.UserID, sc.String()); err != nil {
			e.logger.Warn("forgetting activity failed", "scope", sc.String(), "error", err)
			return
		}
		e.publishActive(ctx)
	})
}

func (e *Engine) removeRecord(sc scope.Scope, id int64) bool {
	records, ok := e.records[sc]
	if !ok {
		return false
	}
	kept := make([]entity.Record, 0, len(records))
	for _, rec := range records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return false
	}
	e.records[sc] = kept
	return true
}

func (e *Engine) handleConnection(state transport.ConnState) {
	e.connection = state
	e.updates.Publish(UpdateConnection, Update{Connection: state})

	switch state {
	case transport.StateDisconnected:
		e.report(Report{Kind: KindTransportUnavailable, Err: transport.ErrNotConnected})
	case transport.StateConnected, transport.StateReconnected:
		ctx, cancel := context.WithTimeout(e.bg, defaultRoomTimeout)
		defer cancel()
		if err := e.members.Rejoin(ctx); err != nil {
			e.report(Report{Kind: KindTransportUnavailable, Err: err})
		}
		if state == transport.StateReconnected {
			// Events may have been missed while disconnected.
			for _, sc := range e.members.Scopes() {
				e.sched.Request(sc, classify.PriorityCritical, "reconnect")
			}
		}
	}
}
