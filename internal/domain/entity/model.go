package entity

import (
	"strings"
	"time"

	"github.com/ganot/desksync/internal/domain/scope"
)

// Role is the desk role of an author.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleAgent      Role = "agent"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Author describes who created a record.
type Author struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Same reports whether a and other identify the same person. User ids are
// compared when both sides carry one; otherwise name and role must match.
func (a Author) Same(other Author) bool {
	if a.ID != "" && other.ID != "" {
		return a.ID == other.ID
	}
	return strings.EqualFold(strings.TrimSpace(a.Name), strings.TrimSpace(other.Name)) &&
		strings.EqualFold(string(a.Role), string(other.Role))
}

// Record is an authoritative item returned by the desk API: a comment, a
// chat message, or a ticket in the global list.
type Record struct {
	ID        int64       `json:"id"`
	Scope     scope.Scope `json:"-"`
	Author    Author      `json:"author"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
	// ClientRef echoes the correlation id sent with the submit request,
	// when the server supports it.
	ClientRef string `json:"clientRef,omitempty"`
}

// NormalizeText trims and collapses whitespace so that records can be
// compared by content.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
