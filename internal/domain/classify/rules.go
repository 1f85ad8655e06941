package classify

import "github.com/ganot/desksync/internal/domain/scope"

// Event tags published by the desk server.
const (
	TagTicketCreated       = "ticket-created"
	TagTicketUpdated       = "ticket-updated"
	TagTicketAssigned      = "ticket-assigned"
	TagTicketEscalated     = "ticket-escalated"
	TagTicketStatusChanged = "ticket-status-changed"
	TagCommentAdded        = "comment-added"
	TagChatMessage         = "chat-message"
	TagTicketDeleted       = "ticket-deleted"
	TagCommentDeleted      = "comment-deleted"
	TagChatMessageDeleted  = "chat-message-deleted"
)

// DefaultRules is the static tag table.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		TagTicketCreated:       {Priority: PriorityCritical, Kind: scope.KindGlobal},
		TagTicketUpdated:       {Priority: PriorityCritical, Kind: scope.KindTicket, IDField: "ticketId"},
		TagTicketAssigned:      {Priority: PriorityCritical, Kind: scope.KindTicket, IDField: "ticketId"},
		TagTicketEscalated:     {Priority: PriorityCritical, Kind: scope.KindTicket, IDField: "ticketId"},
		TagTicketStatusChanged: {Priority: PriorityCritical, Kind: scope.KindTicket, IDField: "ticketId"},
		TagCommentAdded:        {Priority: PriorityCritical, Kind: scope.KindTicket, IDField: "ticketId"},
		TagChatMessage:         {Priority: PriorityNormal, Kind: scope.KindChat, IDField: "chatId"},

		TagTicketDeleted:      {Remove: true, Kind: scope.KindTicket, IDField: "ticketId"},
		TagCommentDeleted:     {Remove: true, Kind: scope.KindTicket, IDField: "ticketId", EntityField: "commentId"},
		TagChatMessageDeleted: {Remove: true, Kind: scope.KindChat, IDField: "chatId", EntityField: "messageId"},
	}
}
