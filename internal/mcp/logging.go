package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolCall names the tool a tools/call request runs and the scope it
// addresses.
type toolCall struct {
	tool  string
	scope string
}

func toolCallOf(method string, req sdkmcp.Request) (toolCall, bool) {
	if method != "tools/call" {
		return toolCall{}, false
	}
	r, ok := req.(*sdkmcp.CallToolRequest)
	if !ok || r.Params == nil {
		return toolCall{}, false
	}
	call := toolCall{tool: r.Params.Name}
	var args ScopeParams
	if len(r.Params.Arguments) > 0 && json.Unmarshal(r.Params.Arguments, &args) == nil {
		call.scope = args.Scope
	}
	return call, true
}

// trafficLoggingMiddleware logs MCP traffic at debug level. Failed tool
// calls are logged at warn level with the scope they addressed.
func trafficLoggingMiddleware(logger *slog.Logger, transportMode, direction string) sdkmcp.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("transport", transportMode, "direction", direction)

	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			call, isCall := toolCallOf(method, req)
			debug := logger.Enabled(ctx, slog.LevelDebug)
			if !isCall && !debug {
				return next(ctx, method, req)
			}

			l := logger.With("method", method, "session_id", sessionID(req))
			if isCall {
				l = l.With("tool", call.tool, "scope", call.scope)
			}
			if debug {
				l.Debug("mcp request", "params", formatPayload(req.GetParams()))
			}

			started := time.Now()
			result, err := next(ctx, method, req)
			elapsed := time.Since(started)

			if isCall {
				if msg, failed := toolFailure(result, err); failed {
					l.Warn("mcp tool call failed", "elapsed", elapsed, "error", msg)
					return result, err
				}
			}
			if debug && !strings.HasPrefix(method, "notifications/") {
				l.Debug("mcp response", "elapsed", elapsed, "result", formatPayload(result))
			}
			return result, err
		}
	}
}

func sessionID(req sdkmcp.Request) string {
	if extra := req.GetExtra(); extra != nil && extra.Header != nil {
		if id := extra.Header.Get("Mcp-Session-Id"); id != "" {
			return id
		}
	}
	if ss, ok := req.GetSession().(*sdkmcp.ServerSession); ok && ss != nil {
		return ss.ID()
	}
	return ""
}

// toolFailure reports whether a tool call failed and why. Tool handler
// errors arrive as results flagged IsError.
func toolFailure(result sdkmcp.Result, err error) (string, bool) {
	if err != nil {
		return err.Error(), true
	}
	res, ok := result.(*sdkmcp.CallToolResult)
	if !ok || res == nil || !res.IsError {
		return "", false
	}
	for _, content := range res.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			return text.Text, true
		}
	}
	return "tool error", true
}

func formatPayload(payload any) string {
	if payload == nil {
		return "<nil>"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%T", payload)
	}
	return string(data)
}
