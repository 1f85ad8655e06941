package activity

import "time"

// StorageKey is the local-state key holding the registry.
const StorageKey = "desksync.active-conversations"

// Kind says which counter an interaction bumps.
type Kind string

const (
	KindComment Kind = "comment"
	KindMessage Kind = "message"
)

// Record tracks one user's activity in one conversation.
type Record struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	CommentsCount  int       `json:"commentsCount"`
	MessagesCount  int       `json:"messagesCount"`
	LastActivity   time.Time `json:"lastActivity"`
}

// Active reports whether the record has any activity.
func (r Record) Active() bool {
	return r.CommentsCount > 0 || r.MessagesCount > 0
}
