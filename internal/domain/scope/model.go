package scope

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the stream a scope subscribes to.
type Kind string

const (
	KindTicket Kind = "ticket"
	KindChat   Kind = "chat"
	// KindGlobal is the ticket-list stream. It is never joined on the
	// transport; global events reach every session.
	KindGlobal Kind = "global"
)

// Scope identifies a subscription unit: a ticket's update stream, a
// role-pair chat stream, or the global ticket list.
type Scope struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

// Global is the ticket-list scope.
var Global = Scope{Kind: KindGlobal}

// Ticket returns the scope of a ticket's comment stream.
func Ticket(id int64) Scope { return Scope{Kind: KindTicket, ID: id} }

// Chat returns the scope of a chat thread.
func Chat(id int64) Scope { return Scope{Kind: KindChat, ID: id} }

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool { return s.Kind == KindGlobal }

// Valid reports whether s names a known kind with a usable id.
func (s Scope) Valid() bool {
	switch s.Kind {
	case KindGlobal:
		return s.ID == 0
	case KindTicket, KindChat:
		return s.ID > 0
	default:
		return false
	}
}

// String returns the scope key, e.g. "ticket:42" or "global".
func (s Scope) String() string {
	if s.IsGlobal() {
		return string(KindGlobal)
	}
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

// Parse converts a scope key back into a Scope.
func Parse(key string) (Scope, error) {
	key = strings.TrimSpace(key)
	if key == string(KindGlobal) {
		return Global, nil
	}
	kind, rawID, ok := strings.Cut(key, ":")
	if !ok {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, key)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, key)
	}
	s := Scope{Kind: Kind(kind), ID: id}
	if !s.Valid() {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, key)
	}
	return s, nil
}
