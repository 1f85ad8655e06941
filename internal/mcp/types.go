package mcp

import (
	"time"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/engine"
)

type ScopeParams struct {
	Scope string `json:"scope" jsonschema:"scope key: global, ticket:<id> or chat:<id>"`
}

type SubmitParams struct {
	Scope   string `json:"scope" jsonschema:"scope key: ticket:<id> or chat:<id>"`
	Content string `json:"content" jsonschema:"text of the comment or chat message"`
}

type DictateParams struct {
	Scope  string `json:"scope" jsonschema:"scope key of the draft"`
	Action string `json:"action" jsonschema:"one of start, interim, final, edit, reset, stop, get"`
	Text   string `json:"text,omitempty" jsonschema:"recognized text for interim and final, full field value for edit"`
}

type Empty struct{}

type RecordResponse struct {
	ID         int64     `json:"id,omitempty"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	AuthorRole string    `json:"author_role,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	LocalID    string    `json:"local_id,omitempty"`
	Pending    bool      `json:"pending"`
}

type ViewResponse struct {
	Scope   string           `json:"scope"`
	Loaded  bool             `json:"loaded"`
	Syncing bool             `json:"syncing"`
	State   string           `json:"state"`
	Items   []RecordResponse `json:"items"`
}

type SubmitResponse struct {
	LocalID string `json:"local_id"`
	Scope   string `json:"scope"`
	State   string `json:"state"`
}

type DraftResponse struct {
	Scope     string `json:"scope"`
	Value     string `json:"value"`
	Committed string `json:"committed"`
	Interim   string `json:"interim"`
	Capturing bool   `json:"capturing"`
}

type ActiveConversation struct {
	ConversationID string    `json:"conversation_id"`
	CommentsCount  int       `json:"comments_count"`
	MessagesCount  int       `json:"messages_count"`
	LastActivity   time.Time `json:"last_activity"`
}

type ActiveConversationsResponse struct {
	Conversations []ActiveConversation `json:"conversations"`
}

type ScopeStatusResponse struct {
	Scope       string `json:"scope"`
	Subscribers int    `json:"subscribers"`
	State       string `json:"state"`
	Loaded      bool   `json:"loaded"`
	Pending     int    `json:"pending"`
}

type ErrorReport struct {
	Kind    string    `json:"kind"`
	Scope   string    `json:"scope,omitempty"`
	LocalID string    `json:"local_id,omitempty"`
	Content string    `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

type StatusResponse struct {
	Connection   string                `json:"connection"`
	Pending      int                   `json:"pending"`
	Scopes       []ScopeStatusResponse `json:"scopes"`
	RecentErrors []ErrorReport         `json:"recent_errors"`
}

func toViewResponse(v engine.View) ViewResponse {
	items := make([]RecordResponse, 0, len(v.Items))
	for _, item := range v.Items {
		rec := item.Record
		items = append(items, RecordResponse{
			ID:         rec.ID,
			AuthorID:   rec.Author.ID,
			AuthorName: rec.Author.Name,
			AuthorRole: string(rec.Author.Role),
			Content:    rec.Content,
			CreatedAt:  rec.CreatedAt,
			LocalID:    item.LocalID,
			Pending:    item.Pending,
		})
	}
	return ViewResponse{
		Scope:   v.Scope.String(),
		Loaded:  v.Loaded,
		Syncing: v.Syncing(),
		State:   v.State.String(),
		Items:   items,
	}
}

func toActiveResponse(records []activity.Record) ActiveConversationsResponse {
	out := make([]ActiveConversation, 0, len(records))
	for _, rec := range records {
		out = append(out, ActiveConversation{
			ConversationID: rec.ConversationID,
			CommentsCount:  rec.CommentsCount,
			MessagesCount:  rec.MessagesCount,
			LastActivity:   rec.LastActivity,
		})
	}
	return ActiveConversationsResponse{Conversations: out}
}

func toStatusResponse(st engine.Status) StatusResponse {
	resp := StatusResponse{
		Connection:   string(st.Connection),
		Pending:      st.Pending,
		Scopes:       make([]ScopeStatusResponse, 0, len(st.Scopes)),
		RecentErrors: make([]ErrorReport, 0, len(st.RecentErrors)),
	}
	for _, sc := range st.Scopes {
		resp.Scopes = append(resp.Scopes, ScopeStatusResponse{
			Scope:       sc.Scope.String(),
			Subscribers: sc.Subscribers,
			State:       sc.State.String(),
			Loaded:      sc.Loaded,
			Pending:     sc.Pending,
		})
	}
	for _, r := range st.RecentErrors {
		report := ErrorReport{
			Kind:    string(r.Kind),
			LocalID: r.LocalID,
			Content: r.Content,
			At:      r.At,
		}
		if r.Scope.Valid() {
			report.Scope = r.Scope.String()
		}
		if r.Err != nil {
			report.Error = r.Err.Error()
		}
		resp.RecentErrors = append(resp.RecentErrors, report)
	}
	return resp
}
