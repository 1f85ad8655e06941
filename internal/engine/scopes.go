package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ganot/desksync/internal/domain/classify"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/membership"
	"github.com/ganot/desksync/internal/domain/reconcile"
	"github.com/ganot/desksync/internal/domain/scope"
)

// Open adds a local subscriber to sc. The first subscriber joins the room
// and starts an immediate fetch. A transport failure is reported but does
// not fail the call: the scope is rejoined once the transport reconnects.
func (e *Engine) Open(ctx context.Context, sc scope.Scope) (View, error) {
	var (
		view   View
		result error
	)
	err := e.call(ctx, func() {
		roomCtx, cancel := context.WithTimeout(e.bg, defaultRoomTimeout)
		defer cancel()

		joined, err := e.members.Acquire(roomCtx, sc)
		if errors.Is(err, membership.ErrInvalidScope) {
			result = err
			return
		}
		if err != nil {
			e.report(Report{Kind: KindTransportUnavailable, Scope: sc, Err: err})
		}
		if joined {
			e.logger.Info("scope opened", "scope", sc.String())
			e.sched.Request(sc, classify.PriorityCritical, "open")
		}
		view = e.view(sc)
	})
	if err != nil {
		return View{}, err
	}
	return view, result
}

// CloseScope drops a local subscriber. The last one leaves the room, cancels
// pending refetches and discards the cached view; a fetch still in flight
// is ignored when it completes.
func (e *Engine) CloseScope(ctx context.Context, sc scope.Scope) error {
	var result error
	err := e.call(ctx, func() {
		roomCtx, cancel := context.WithTimeout(e.bg, defaultRoomTimeout)
		defer cancel()

		left, err := e.members.Release(roomCtx, sc)
		if errors.Is(err, membership.ErrNotHeld) {
			result = fmt.Errorf("%w: %s", ErrNotOpen, sc)
			return
		}
		if err != nil {
			e.logger.Debug("leave failed", "scope", sc.String(), "error", err)
		}
		if !left {
			return
		}
		e.sched.Forget(sc)
		delete(e.records, sc)
		delete(e.loaded, sc)
		delete(e.removed, sc)
		e.logger.Info("scope closed", "scope", sc.String())
	})
	if err != nil {
		return err
	}
	return result
}

// View returns the merged read model of sc: authoritative records
// followed by still-pending local entries.
func (e *Engine) View(ctx context.Context, sc scope.Scope) (View, error) {
	var view View
	err := e.call(ctx, func() { view = e.view(sc) })
	return view, err
}

// Refresh requests an immediate refetch of an open scope. It works
// without a push transport.
func (e *Engine) Refresh(ctx context.Context, sc scope.Scope) error {
	var result error
	err := e.call(ctx, func() {
		if !e.members.Holds(sc) {
			result = fmt.Errorf("%w: %s", ErrNotOpen, sc)
			return
		}
		e.sched.Request(sc, classify.PriorityCritical, "refresh")
	})
	if err != nil {
		return err
	}
	return result
}

// Syncing reports whether a refetch of sc is pending or in flight.
func (e *Engine) Syncing(ctx context.Context, sc scope.Scope) (bool, error) {
	var syncing bool
	err := e.call(ctx, func() { syncing = e.sched.State(sc) != reconcile.StateIdle })
	return syncing, err
}

func (e *Engine) view(sc scope.Scope) View {
	return View{
		Scope:  sc,
		Items:  e.ledger.Merge(sc, e.records[sc]),
		Loaded: e.loaded[sc],
		State:  e.sched.State(sc),
	}
}

func (e *Engine) publishView(sc scope.Scope) {
	e.updates.Publish(UpdateView, Update{Scope: sc, View: e.view(sc)})
}

func (e *Engine) onSchedState(sc scope.Scope, st reconcile.State) {
	e.updates.Publish(UpdateSync, Update{Scope: sc, State: st})
}

// dispatch starts a refetch for the scheduler. Runs on the loop.
func (e *Engine) dispatch(req reconcile.RefetchRequest) {
	e.goBackground(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()
		records, err := e.opts.Backend.List(ctx, req.Scope)
		e.post(func() { e.fetchDone(req, records, err) })
	})
}

func (e *Engine) fetchDone(req reconcile.RefetchRequest, records []entity.Record, fetchErr error) {
	if !e.sched.Owns(req) {
		e.logger.Debug("discarding stale fetch", "scope", req.Scope.String(), "seq", req.Seq)
		return
	}
	sc := req.Scope

	if fetchErr == nil && e.members.Holds(sc) {
		records = e.applyTombstone(req, records)
		res := e.ledger.Reconcile(sc, records)
		e.records[sc] = records
		e.loaded[sc] = true
		for _, entry := range res.Expired {
			e.report(Report{
				Kind:    KindSubmitFailed,
				Scope:   sc,
				LocalID: entry.LocalID,
				Content: entry.Payload.Content,
				Err:     entry.Err,
			})
		}
		e.publishView(sc)
	}

	if err := e.sched.Complete(req, fetchErr); err != nil {
		e.report(Report{Kind: KindFetchFailed, Scope: sc, Err: err})
	}
}
