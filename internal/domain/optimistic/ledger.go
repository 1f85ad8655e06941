package optimistic

import (
	"fmt"
	"log/slog"

	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/scope"
)

// Ledger tracks pending local mutations per scope and resolves them
// against authoritative state. An entry is either pending in the ledger or
// represented by its authoritative record, never both.
//
// Ledger is not safe for concurrent use.
type Ledger struct {
	opts    Options
	entries map[string]*Entry
	order   map[scope.Scope][]string
	logger  *slog.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(opts Options) *Ledger {
	opts = opts.withDefaults()
	return &Ledger{
		opts:    opts,
		entries: map[string]*Entry{},
		order:   map[scope.Scope][]string{},
		logger:  opts.Logger,
	}
}

// Submit records a pending mutation and returns it immediately.
func (l *Ledger) Submit(sc scope.Scope, p Payload) Entry {
	e := &Entry{
		LocalID:   l.opts.NewID(),
		Scope:     sc,
		Payload:   p,
		CreatedAt: l.opts.Clock.Now(),
		State:     StatePending,
	}
	l.entries[e.LocalID] = e
	l.order[sc] = append(l.order[sc], e.LocalID)
	return *e
}

// Get returns a pending entry.
func (l *Ledger) Get(localID string) (Entry, bool) {
	e, ok := l.entries[localID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Ack marks the submit request as successful. serverID, when nonzero,
// becomes the primary match key. It returns false when the entry was
// already resolved.
func (l *Ledger) Ack(localID string, serverID int64) (Entry, bool) {
	e, ok := l.entries[localID]
	if !ok {
		return Entry{}, false
	}
	e.Acked = true
	e.ServerID = serverID
	return *e, true
}

// Confirm resolves an entry without a reconciliation pass.
func (l *Ledger) Confirm(localID string) (Entry, bool) {
	e, ok := l.remove(localID)
	if !ok {
		return Entry{}, false
	}
	e.State = StateConfirmed
	return e, true
}

// Fail removes an entry whose submit request failed and returns it with
// its original payload.
func (l *Ledger) Fail(localID string, err error) (Entry, bool) {
	e, ok := l.remove(localID)
	if !ok {
		return Entry{}, false
	}
	e.State = StateFailed
	e.Err = err
	return e, true
}

// Pending returns the unresolved entries of sc in submission order.
func (l *Ledger) Pending(sc scope.Scope) []Entry {
	ids := l.order[sc]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *l.entries[id])
	}
	return out
}

// Len returns the total number of unresolved entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Reconcile resolves the pending entries of sc against an authoritative
// list. Matched entries are confirmed and removed. Acknowledged entries
// that stay unmatched for MaxPasses passes expire.
func (l *Ledger) Reconcile(sc scope.Scope, records []entity.Record) Result {
	pending := l.pendingPtrs(sc)
	matches := l.match(pending, records)

	var res Result
	for i, e := range pending {
		if matches[i] >= 0 {
			confirmed, _ := l.Confirm(e.LocalID)
			res.Confirmed = append(res.Confirmed, confirmed)
			continue
		}
		if !e.Acked {
			continue
		}
		e.Passes++
		if e.Passes >= l.opts.MaxPasses {
			expired, _ := l.Fail(e.LocalID, fmt.Errorf("%w after %d passes", ErrExpired, e.Passes))
			l.logger.Warn("optimistic entry expired", "scope", sc.String(), "local_id", e.LocalID, "passes", e.Passes)
			res.Expired = append(res.Expired, expired)
		}
	}
	return res
}

// Merge returns the authoritative records followed by the pending entries
// of sc that match none of them.
func (l *Ledger) Merge(sc scope.Scope, records []entity.Record) []Item {
	pending := l.pendingPtrs(sc)
	matches := l.match(pending, records)

	items := make([]Item, 0, len(records)+len(pending))
	for _, rec := range records {
		rec.Scope = sc
		items = append(items, Item{Record: rec})
	}
	for i, e := range pending {
		if matches[i] >= 0 {
			continue
		}
		items = append(items, Item{Record: e.Record(), LocalID: e.LocalID, Pending: true})
	}
	return items
}

func (l *Ledger) pendingPtrs(sc scope.Scope) []*Entry {
	ids := l.order[sc]
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.entries[id])
	}
	return out
}

// match pairs each entry with at most one record, each record claimed at
// most once. Exact keys (server id, then client ref) are assigned before
// the text heuristic so that a heuristic match cannot steal a record that
// another entry identifies exactly. The result holds a record index per
// entry, or -1.
func (l *Ledger) match(pending []*Entry, records []entity.Record) []int {
	result := make([]int, len(pending))
	for i := range result {
		result[i] = -1
	}
	claimed := make([]bool, len(records))

	claim := func(i int, pred func(*Entry, entity.Record) bool) {
		if result[i] >= 0 {
			return
		}
		for j, rec := range records {
			if !claimed[j] && pred(pending[i], rec) {
				claimed[j] = true
				result[i] = j
				return
			}
		}
	}

	for i := range pending {
		claim(i, func(e *Entry, rec entity.Record) bool {
			return e.ServerID != 0 && rec.ID == e.ServerID
		})
	}
	for i := range pending {
		claim(i, func(e *Entry, rec entity.Record) bool {
			return rec.ClientRef != "" && rec.ClientRef == e.LocalID
		})
	}
	for i := range pending {
		claim(i, l.heuristic)
	}
	return result
}

func (l *Ledger) heuristic(e *Entry, rec entity.Record) bool {
	if e.ServerID != 0 || (rec.ClientRef != "" && rec.ClientRef != e.LocalID) {
		return false
	}
	if !e.Payload.Author.Same(rec.Author) {
		return false
	}
	if entity.NormalizeText(e.Payload.Content) != entity.NormalizeText(rec.Content) {
		return false
	}
	if rec.CreatedAt.IsZero() {
		return true
	}
	delta := rec.CreatedAt.Sub(e.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= l.opts.Tolerance
}

func (l *Ledger) remove(localID string) (Entry, bool) {
	e, ok := l.entries[localID]
	if !ok {
		return Entry{}, false
	}
	delete(l.entries, localID)
	ids := l.order[e.Scope]
	for i, id := range ids {
		if id == localID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(l.order, e.Scope)
	} else {
		l.order[e.Scope] = ids
	}
	return *e, true
}
