package mcp

import (
	"context"
	"log/slog"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/domain/optimistic"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/domain/transcript"
	"github.com/ganot/desksync/internal/engine"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// SyncEngine defines the engine operations exposed over MCP.
type SyncEngine interface {
	Open(ctx context.Context, sc scope.Scope) (engine.View, error)
	CloseScope(ctx context.Context, sc scope.Scope) error
	View(ctx context.Context, sc scope.Scope) (engine.View, error)
	Refresh(ctx context.Context, sc scope.Scope) error
	Submit(ctx context.Context, sc scope.Scope, content string) (optimistic.Entry, error)
	Dictation(sc scope.Scope) *transcript.Buffer
	ActiveConversations(ctx context.Context) ([]activity.Record, error)
	Status(ctx context.Context) (engine.Status, error)
}

// Config contains server configuration.
type Config struct {
	Engine        SyncEngine
	TransportMode string // "stdio" or "http"
	Version       string
	Logger        *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "desksync",
		Version: cfg.Version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, cfg.TransportMode, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, cfg.TransportMode, "outbound"))

	registerTools(server, cfg.Engine)

	return server
}
