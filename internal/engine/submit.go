package engine

import (
	"context"
	"strings"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/domain/classify"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/optimistic"
	"github.com/ganot/desksync/internal/domain/scope"
)

// Submit renders content optimistically in sc and sends it. The returned
// entry is pending; failure rolls it back and is reported as
// KindSubmitFailed with the original content.
func (e *Engine) Submit(ctx context.Context, sc scope.Scope, content string) (optimistic.Entry, error) {
	if strings.TrimSpace(content) == "" {
		return optimistic.Entry{}, ErrEmptyContent
	}
	if sc.Kind != scope.KindTicket && sc.Kind != scope.KindChat {
		return optimistic.Entry{}, ErrReadOnlyScope
	}

	var entry optimistic.Entry
	err := e.call(ctx, func() {
		entry = e.ledger.Submit(sc, optimistic.Payload{Author: e.opts.Identity.Author(), Content: content})
		e.publishView(sc)
		e.goBackground(func(ctx context.Context) { e.send(ctx, entry) })
	})
	return entry, err
}

func (e *Engine) send(ctx context.Context, entry optimistic.Entry) {
	e.touchActivity(ctx, entry.Scope)

	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()
	rec, err := e.opts.Backend.Submit(ctx, entry.Scope, entry.Payload.Content, entry.LocalID)
	e.post(func() { e.submitDone(entry, rec, err) })
}

func (e *Engine) submitDone(entry optimistic.Entry, rec entity.Record, err error) {
	sc := entry.Scope
	if err != nil {
		failed, ok := e.ledger.Fail(entry.LocalID, err)
		if !ok {
			return
		}
		e.report(Report{
			Kind:    KindSubmitFailed,
			Scope:   sc,
			LocalID: failed.LocalID,
			Content: failed.Payload.Content,
			Err:     err,
		})
		e.publishView(sc)
		return
	}

	if !e.members.Holds(sc) {
		e.ledger.Confirm(entry.LocalID)
		return
	}
	if _, ok := e.ledger.Ack(entry.LocalID, rec.ID); ok {
		e.sched.Request(sc, classify.PriorityCritical, "submit")
	}
}

func (e *Engine) touchActivity(ctx context.Context, sc scope.Scope) {
	if e.registry == nil || e.opts.Identity.UserID == "" {
		return
	}
	kind := activity.KindMessage
	if sc.Kind == scope.KindTicket {
		kind = activity.KindComment
	}
	if _, err := e.registry.Touch(ctx, e.opts.Identity.UserID, sc.String(), kind); err != nil {
		e.logger.Warn("recording activity failed", "scope", sc.String(), "error", err)
		return
	}
	e.publishActive(ctx)
}
