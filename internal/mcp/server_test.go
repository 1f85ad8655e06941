package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/engine"
	"github.com/ganot/desksync/internal/repository/mocks"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, backend *mocks.Backend) *engine.Engine {
	t.Helper()
	eng := engine.New(engine.Options{
		Identity: engine.Identity{UserID: "u1", Name: "Dana", Role: entity.RoleAgent},
		Backend:  backend,
		Logger:   discardLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return eng
}

func connect(t *testing.T, eng SyncEngine) *sdkmcp.ClientSession {
	t.Helper()
	return connectWith(t, Config{Engine: eng, TransportMode: "stdio", Logger: discardLogger()})
}

func connectWith(t *testing.T, cfg Config) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := NewServer(cfg)

	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *sdkmcp.ClientSession, name string, args map[string]any) *sdkmcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err, "tools/call %s", name)
	return result
}

func resultText(t *testing.T, result *sdkmcp.CallToolResult) string {
	t.Helper()
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			return text.Text
		}
	}
	t.Fatalf("no text content in %v", result)
	return ""
}

func decode[T any](t *testing.T, result *sdkmcp.CallToolResult) T {
	t.Helper()
	require.False(t, result.IsError, resultText(t, result))
	var out T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	return out
}

func TestServer_ListsTools(t *testing.T) {
	session := connect(t, newEngine(t, &mocks.Backend{}))

	initResult := session.InitializeResult()
	require.NotNil(t, initResult)
	require.Equal(t, "desksync", initResult.ServerInfo.Name)

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, name := range []string{
		"open_scope", "close_scope", "get_view", "refresh_scope",
		"submit", "dictate", "list_active_conversations", "get_sync_status",
	} {
		require.True(t, names[name], "missing tool %s", name)
	}
}

func TestServer_OpenViewAndStatus(t *testing.T) {
	backend := &mocks.Backend{}
	backend.On("List", mock.Anything, scope.Ticket(42)).Return([]entity.Record{
		{ID: 1, Author: entity.Author{ID: "c1", Name: "Casey", Role: entity.RoleCustomer}, Content: "printer is on fire"},
	}, nil)
	session := connect(t, newEngine(t, backend))

	view := decode[ViewResponse](t, callTool(t, session, "open_scope", map[string]any{"scope": "ticket:42"}))
	require.Equal(t, "ticket:42", view.Scope)

	require.Eventually(t, func() bool {
		view = decode[ViewResponse](t, callTool(t, session, "get_view", map[string]any{"scope": "ticket:42"}))
		return view.Loaded && !view.Syncing
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, view.Items, 1)
	require.Equal(t, "printer is on fire", view.Items[0].Content)

	status := decode[StatusResponse](t, callTool(t, session, "get_sync_status", map[string]any{}))
	require.Len(t, status.Scopes, 1)
	require.Equal(t, "ticket:42", status.Scopes[0].Scope)
	require.Equal(t, "idle", status.Scopes[0].State)

	closed := callTool(t, session, "close_scope", map[string]any{"scope": "ticket:42"})
	require.False(t, closed.IsError, resultText(t, closed))

	again := callTool(t, session, "close_scope", map[string]any{"scope": "ticket:42"})
	require.True(t, again.IsError)
	require.Contains(t, resultText(t, again), "SCOPE_NOT_OPEN")
}

func TestServer_SubmitErrors(t *testing.T) {
	session := connect(t, newEngine(t, &mocks.Backend{}))

	result := callTool(t, session, "submit", map[string]any{"scope": "global", "content": "hi"})
	require.True(t, result.IsError)
	require.Contains(t, resultText(t, result), "READ_ONLY_SCOPE")

	result = callTool(t, session, "submit", map[string]any{"scope": "ticket:x", "content": "hi"})
	require.True(t, result.IsError)
	require.Contains(t, resultText(t, result), "INVALID_SCOPE")
}

func TestServer_SubmitReturnsPendingEntry(t *testing.T) {
	backend := &mocks.Backend{}
	backend.On("Submit", mock.Anything, scope.Chat(3), "hello", mock.Anything).
		Return(entity.Record{ID: 9, Content: "hello"}, nil).Maybe()
	session := connect(t, newEngine(t, backend))

	resp := decode[SubmitResponse](t, callTool(t, session, "submit", map[string]any{"scope": "chat:3", "content": "hello"}))
	require.NotEmpty(t, resp.LocalID)
	require.Equal(t, "chat:3", resp.Scope)
	require.Equal(t, "pending", resp.State)
}

func TestServer_Dictate(t *testing.T) {
	session := connect(t, newEngine(t, &mocks.Backend{}))
	dictate := func(action, text string) DraftResponse {
		return decode[DraftResponse](t, callTool(t, session, "dictate", map[string]any{
			"scope": "chat:1", "action": action, "text": text,
		}))
	}

	require.True(t, dictate("start", "").Capturing)
	require.Equal(t, "hello wor", dictate("interim", "hello wor").Value)
	draft := dictate("final", "hello world")
	require.Equal(t, "hello world", draft.Value)
	require.Empty(t, draft.Interim)
	require.Equal(t, "hello world", dictate("stop", "").Committed)

	result := callTool(t, session, "dictate", map[string]any{"scope": "chat:1", "action": "shout"})
	require.True(t, result.IsError)
	require.Contains(t, resultText(t, result), "UNKNOWN_ACTION")
}

func TestServer_ListActiveConversationsWithoutRegistry(t *testing.T) {
	session := connect(t, newEngine(t, &mocks.Backend{}))
	resp := decode[ActiveConversationsResponse](t, callTool(t, session, "list_active_conversations", map[string]any{}))
	require.Empty(t, resp.Conversations)
}

func TestServer_FailedToolCallIsLoggedWithScope(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&lockedWriter{mu: &mu, w: &buf}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	session := connectWith(t, Config{Engine: newEngine(t, &mocks.Backend{}), TransportMode: "http", Logger: logger})

	result := callTool(t, session, "refresh_scope", map[string]any{"scope": "chat:3"})
	require.True(t, result.IsError)

	mu.Lock()
	defer mu.Unlock()
	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		require.NoError(t, json.Unmarshal(line, &e))
		if e["msg"] == "mcp tool call failed" {
			entry = e
		}
	}
	require.NotNil(t, entry, buf.String())
	require.Equal(t, "refresh_scope", entry["tool"])
	require.Equal(t, "chat:3", entry["scope"])
	require.Equal(t, "http", entry["transport"])
	require.Equal(t, "inbound", entry["direction"])
	require.Contains(t, entry["error"], "SCOPE_NOT_OPEN")
}

func TestServer_SuccessfulToolCallIsQuietAboveDebug(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&lockedWriter{mu: &mu, w: &buf}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	session := connectWith(t, Config{Engine: newEngine(t, &mocks.Backend{}), TransportMode: "stdio", Logger: logger})

	callTool(t, session, "get_sync_status", map[string]any{})

	mu.Lock()
	defer mu.Unlock()
	require.NotContains(t, buf.String(), "mcp tool call failed")
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestMapError(t *testing.T) {
	cases := map[error]string{
		engine.ErrNotOpen:       "SCOPE_NOT_OPEN",
		engine.ErrEmptyContent:  "EMPTY_CONTENT",
		engine.ErrReadOnlyScope: "READ_ONLY_SCOPE",
		engine.ErrClosed:        "ENGINE_CLOSED",
		scope.ErrInvalidScope:   "INVALID_SCOPE",
	}
	for err, code := range cases {
		wrapped := fmt.Errorf("wrapped: %w", err)
		apiErr := MapError(wrapped)
		require.NotNil(t, apiErr, err)
		require.Equal(t, code, apiErr.Code)
	}
	require.Nil(t, MapError(nil))
	require.Nil(t, MapError(io.EOF))
}
