package optimistic

import (
	"time"

	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/scope"
)

// EntryState tracks an optimistic entry through its lifecycle.
type EntryState string

const (
	StatePending   EntryState = "pending"
	StateConfirmed EntryState = "confirmed"
	StateFailed    EntryState = "failed"
)

// Payload is the content of a local mutation.
type Payload struct {
	Author  entity.Author `json:"author"`
	Content string        `json:"content"`
}

// Entry is a locally submitted mutation awaiting server confirmation.
type Entry struct {
	LocalID   string      `json:"localId"`
	Scope     scope.Scope `json:"scope"`
	Payload   Payload     `json:"payload"`
	CreatedAt time.Time   `json:"createdAt"`
	State     EntryState  `json:"state"`
	// Acked is set once the submit request returned successfully.
	Acked bool `json:"acked"`
	// ServerID is the id of the created record, when the server returned one.
	ServerID int64 `json:"serverId,omitempty"`
	// Passes counts reconciliation passes that ran after the ack without
	// finding the record.
	Passes int   `json:"passes"`
	Err    error `json:"-"`
}

// Record renders the entry as a provisional record.
func (e Entry) Record() entity.Record {
	return entity.Record{
		ID:        e.ServerID,
		Scope:     e.Scope,
		Author:    e.Payload.Author,
		Content:   e.Payload.Content,
		CreatedAt: e.CreatedAt,
		ClientRef: e.LocalID,
	}
}

// Item is one row of a merged view. Pending items have no authoritative
// record yet and carry the local id of their entry.
type Item struct {
	Record  entity.Record `json:"record"`
	LocalID string        `json:"localId,omitempty"`
	Pending bool          `json:"pending"`
}

// Result reports what a reconciliation pass resolved.
type Result struct {
	Confirmed []Entry
	// Expired entries were acknowledged but never appeared in
	// authoritative state. Their content is returned for recovery.
	Expired []Entry
}
