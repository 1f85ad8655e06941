package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `desksync keeps a live, reconciled view of support tickets, ticket comments and chat threads.

Core concepts:
- Scope: a subscription unit. "global" is the ticket list, "ticket:<id>" a ticket's comments, "chat:<id>" a chat thread.
- View: authoritative records from the desk API followed by your pending submissions.
- Pending: a submission shown before the server confirmed it. It is replaced by the server record once a refetch contains it.

Workflow:
1) open_scope before reading a scope; the first open fetches it and joins its push room.
2) get_view to read. "syncing" is true while a refetch is pending or running.
3) submit to post a comment or chat message. Rejected submissions appear in get_sync_status with their content so you can resend.
4) refresh_scope when you suspect missed events; it works without a push connection.
5) close_scope when done; scopes are reference counted.

Docs:
- desksync://docs/index
- desksync://docs/sync-model
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "desksync://docs/index",
		Name:        "docs_index",
		Title:       "desksync docs index",
		Description: "Entry point: tools, scopes and what to read next.",
		Content: `# desksync

## Tools

- open_scope / close_scope: reference-counted subscriptions.
- get_view: merged read model of a scope.
- refresh_scope: immediate refetch.
- submit: optimistic comment or chat message.
- dictate: drive a dictation draft (start, interim, final, edit, reset, stop, get).
- list_active_conversations: where you recently commented or messaged.
- get_sync_status: connection, open scopes, pending submissions, recent errors.

## Scope keys

- ` + "`global`" + `: ticket list. Read only.
- ` + "`ticket:<id>`" + `: comments of a ticket.
- ` + "`chat:<id>`" + `: messages of a chat thread.
`,
	},
	{
		URI:         "desksync://docs/sync-model",
		Name:        "docs_sync_model",
		Title:       "How views stay consistent",
		Description: "Push events, coalesced refetches and optimistic submissions.",
		Content: `# Sync model

Push events never carry data that is rendered directly. They only decide when a scope is refetched from the desk API.

## Refetch scheduling

- Ticket events (created, updated, assigned, escalated, status changed, comment added) refetch at once.
- Chat messages are coalesced: the first one starts a short window and every message in it shares one refetch.
- At most one refetch per scope runs at a time. Events arriving during it cause exactly one follow-up refetch.
- Deletions are applied to the cached view at once without a refetch.
- Events for scopes you have not opened are ignored.

## Submissions

- A submission appears at once as pending.
- It is confirmed when a refetch contains the created record, matched by server id, by client reference, or by author, normalized text and time.
- If the desk API rejects it, it is removed and reported with its content.
- If it never shows up after a few refetches it is reported the same way.

## Connection loss

Rooms are rejoined after a reconnect and every open scope is refetched.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		doc := doc

		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
