package mcp

import (
	"context"
	"fmt"

	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/domain/transcript"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerTools(server *sdkmcp.Server, eng SyncEngine) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "open_scope",
		Description: "Subscribe to a scope and load its authoritative state. Scopes are reference counted; call close_scope once per open_scope.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in ScopeParams) (*sdkmcp.CallToolResult, ViewResponse, error) {
		sc, err := scope.Parse(in.Scope)
		if err != nil {
			return nil, ViewResponse{}, toolError(err)
		}
		view, err := eng.Open(ctx, sc)
		if err != nil {
			return nil, ViewResponse{}, toolError(err)
		}
		return nil, toViewResponse(view), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "close_scope",
		Description: "Drop one subscription to a scope. The last one leaves the room and discards the cached view.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in ScopeParams) (*sdkmcp.CallToolResult, Empty, error) {
		sc, err := scope.Parse(in.Scope)
		if err != nil {
			return nil, Empty{}, toolError(err)
		}
		return nil, Empty{}, toolError(eng.CloseScope(ctx, sc))
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_view",
		Description: "Return the merged view of a scope: authoritative records followed by pending local submissions.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in ScopeParams) (*sdkmcp.CallToolResult, ViewResponse, error) {
		sc, err := scope.Parse(in.Scope)
		if err != nil {
			return nil, ViewResponse{}, toolError(err)
		}
		view, err := eng.View(ctx, sc)
		if err != nil {
			return nil, ViewResponse{}, toolError(err)
		}
		return nil, toViewResponse(view), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "refresh_scope",
		Description: "Request an immediate refetch of an open scope. Works without a push connection.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in ScopeParams) (*sdkmcp.CallToolResult, Empty, error) {
		sc, err := scope.Parse(in.Scope)
		if err != nil {
			return nil, Empty{}, toolError(err)
		}
		return nil, Empty{}, toolError(eng.Refresh(ctx, sc))
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "submit",
		Description: "Post a ticket comment or chat message. It appears at once as pending and is confirmed once the server state contains it; a rejected submit shows up in get_sync_status with its content.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in SubmitParams) (*sdkmcp.CallToolResult, SubmitResponse, error) {
		sc, err := scope.Parse(in.Scope)
		if err != nil {
			return nil, SubmitResponse{}, toolError(err)
		}
		entry, err := eng.Submit(ctx, sc, in.Content)
		if err != nil {
			return nil, SubmitResponse{}, toolError(err)
		}
		return nil, SubmitResponse{LocalID: entry.LocalID, Scope: sc.String(), State: string(entry.State)}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "dictate",
		Description: "Drive the dictation draft of a scope with speech recognition results.",
	}, func(_ context.Context, _ *sdkmcp.CallToolRequest, in DictateParams) (*sdkmcp.CallToolResult, DraftResponse, error) {
		sc, err := scope.Parse(in.Scope)
		if err != nil {
			return nil, DraftResponse{}, toolError(err)
		}
		buf := eng.Dictation(sc)
		if err := applyDictation(buf, in.Action, in.Text); err != nil {
			return nil, DraftResponse{}, toolError(err)
		}
		st := buf.Snapshot()
		return nil, DraftResponse{
			Scope:     sc.String(),
			Value:     buf.Value(),
			Committed: st.Committed,
			Interim:   st.Interim,
			Capturing: st.Capturing,
		}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_active_conversations",
		Description: "List the conversations the signed-in user recently commented or messaged in, most recent first.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, _ Empty) (*sdkmcp.CallToolResult, ActiveConversationsResponse, error) {
		records, err := eng.ActiveConversations(ctx)
		if err != nil {
			return nil, ActiveConversationsResponse{}, toolError(err)
		}
		return nil, toActiveResponse(records), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_sync_status",
		Description: "Report the push connection, every open scope with its sync state, and recent errors.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, _ Empty) (*sdkmcp.CallToolResult, StatusResponse, error) {
		st, err := eng.Status(ctx)
		if err != nil {
			return nil, StatusResponse{}, toolError(err)
		}
		return nil, toStatusResponse(st), nil
	})
}

func applyDictation(buf *transcript.Buffer, action, text string) error {
	switch action {
	case "start":
		buf.Start()
	case "interim":
		buf.Interim(text)
	case "final":
		buf.Final(text)
	case "edit":
		buf.Edit(text)
	case "reset":
		buf.Reset()
	case "stop":
		buf.Stop()
	case "get", "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return nil
}
