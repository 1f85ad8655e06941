package engine

import (
	"fmt"
	"time"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/optimistic"
	"github.com/ganot/desksync/internal/domain/reconcile"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/transport"
)

// Identity is the signed-in user, supplied at session start.
type Identity struct {
	UserID string      `json:"userId"`
	Name   string      `json:"name"`
	Role   entity.Role `json:"role"`
}

// Author returns the identity as a record author.
func (i Identity) Author() entity.Author {
	return entity.Author{ID: i.UserID, Name: i.Name, Role: i.Role}
}

// ReportKind classifies errors delivered to the view layer.
type ReportKind string

const (
	KindTransportUnavailable ReportKind = "transport-unavailable"
	KindFetchFailed          ReportKind = "fetch-failed"
	KindSubmitFailed         ReportKind = "submit-failed"
	KindMalformedLocalState  ReportKind = "malformed-local-state"
)

// Report is a non-fatal error. For KindSubmitFailed, LocalID and Content
// identify the rolled-back entry so the caller can resubmit it.
type Report struct {
	Kind    ReportKind  `json:"kind"`
	Scope   scope.Scope `json:"scope"`
	LocalID string      `json:"localId,omitempty"`
	Content string      `json:"content,omitempty"`
	Err     error       `json:"-"`
	At      time.Time   `json:"at"`
}

func (r Report) Error() string {
	if r.Err == nil {
		return fmt.Sprintf("%s on %s", r.Kind, r.Scope)
	}
	return fmt.Sprintf("%s on %s: %v", r.Kind, r.Scope, r.Err)
}

func (r Report) Unwrap() error { return r.Err }

// View is the merged read model of a scope.
type View struct {
	Scope scope.Scope       `json:"scope"`
	Items []optimistic.Item `json:"items"`
	// Loaded is false until the first authoritative fetch succeeded.
	Loaded bool            `json:"loaded"`
	State  reconcile.State `json:"state"`
}

// Syncing reports whether a refetch is pending or in flight.
func (v View) Syncing() bool {
	return v.State != reconcile.StateIdle
}

// Update event types.
const (
	UpdateView       = "view"
	UpdateSync       = "sync"
	UpdateDraft      = "draft"
	UpdateActive     = "active"
	UpdateConnection = "connection"
)

// Update is published on every change visible to the view layer. Fields
// are populated according to the event type.
type Update struct {
	Scope      scope.Scope
	View       View
	State      reconcile.State
	Draft      string
	Active     []activity.Record
	Connection transport.ConnState
}

// ScopeStatus describes one held scope.
type ScopeStatus struct {
	Scope       scope.Scope     `json:"scope"`
	Subscribers int             `json:"subscribers"`
	State       reconcile.State `json:"state"`
	Loaded      bool            `json:"loaded"`
	Pending     int             `json:"pending"`
}

// Status is a snapshot of the engine.
type Status struct {
	Connection   transport.ConnState `json:"connection"`
	Scopes       []ScopeStatus       `json:"scopes"`
	Pending      int                 `json:"pending"`
	RecentErrors []Report            `json:"recentErrors"`
}
