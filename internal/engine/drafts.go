package engine

import (
	"context"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/domain/transcript"
)

// Dictation returns the dictation buffer of sc, creating it on first use.
// Changes are published as UpdateDraft.
func (e *Engine) Dictation(sc scope.Scope) *transcript.Buffer {
	e.draftsMu.Lock()
	defer e.draftsMu.Unlock()
	if b, ok := e.drafts[sc]; ok {
		return b
	}
	b := transcript.NewBuffer(transcript.Options{
		Clock:   e.opts.Clock,
		Cadence: e.opts.TranscriptCadence,
		Notify: func(value string) {
			e.updates.Publish(UpdateDraft, Update{Scope: sc, Draft: value})
		},
		Logger: e.logger,
	})
	e.drafts[sc] = b
	return b
}

// ActiveConversations returns the signed-in user's active conversations,
// most recent first.
func (e *Engine) ActiveConversations(ctx context.Context) ([]activity.Record, error) {
	if e.registry == nil {
		return []activity.Record{}, nil
	}
	return e.registry.Active(ctx, e.opts.Identity.UserID)
}

// LocalStateChanged re-reads the registry after another process wrote
// it and publishes UpdateActive when its content changed.
func (e *Engine) LocalStateChanged(ctx context.Context) {
	if e.registry == nil {
		return
	}
	changed, err := e.registry.Refresh(ctx)
	if err != nil {
		e.logger.Warn("re-reading local state failed", "error", err)
		return
	}
	if changed {
		e.publishActive(ctx)
	}
}

func (e *Engine) publishActive(ctx context.Context) {
	active, err := e.ActiveConversations(ctx)
	if err != nil {
		e.logger.Warn("reading active conversations failed", "error", err)
		return
	}
	e.updates.Publish(UpdateActive, Update{Active: active})
}
