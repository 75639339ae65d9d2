package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxLoggedPayload caps a logged payload. Activity pages can carry up to a
// hundred records.
const maxLoggedPayload = 2048

// trafficLoggingMiddleware logs every MCP exchange at debug level. Tool calls
// also carry the tool name, the activity record they target and whether the
// tool reported an error.
func trafficLoggingMiddleware(logger *slog.Logger, direction string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if logger == nil || !logger.Enabled(ctx, slog.LevelDebug) {
				return next(ctx, method, req)
			}

			params := safeParams(req)
			attrs := []any{
				"direction", direction,
				"method", method,
				"session_id", safeSessionID(req),
				"user_id", getUserID(ctx),
			}
			attrs = append(attrs, toolAttrs(params)...)
			logger.Debug("mcp traffic", append(attrs, "stage", "request", "params", formatPayload(params))...)

			result, err := next(ctx, method, req)
			if strings.HasPrefix(method, "notifications/") {
				return result, err
			}

			resp := append(attrs, "stage", "response", "result", formatPayload(result))
			if res, ok := result.(*sdkmcp.CallToolResult); ok && res != nil && res.IsError {
				resp = append(resp, "tool_error", true)
			}
			if err != nil {
				resp = append(resp, "error", err)
			}
			logger.Debug("mcp traffic", resp...)

			return result, err
		}
	}
}

// toolAttrs extracts the tool name and target record id of a tool call.
func toolAttrs(params any) []any {
	call, ok := params.(*sdkmcp.CallToolParamsRaw)
	if !ok || call == nil {
		return nil
	}
	attrs := []any{"tool", call.Name}
	var args struct {
		ID string `json:"id"`
	}
	if len(call.Arguments) > 0 && json.Unmarshal(call.Arguments, &args) == nil && args.ID != "" {
		attrs = append(attrs, "record_id", args.ID)
	}
	return attrs
}

func safeSessionID(req sdkmcp.Request) string {
	if req == nil {
		return ""
	}
	defer func() { recover() }()
	session := req.GetSession()
	if session == nil {
		return ""
	}
	defer func() { recover() }()
	return session.ID()
}

func safeParams(req sdkmcp.Request) any {
	if req == nil {
		return nil
	}
	defer func() { recover() }()
	return req.GetParams()
}

func formatPayload(payload any) string {
	if payload == nil {
		return "<nil>"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%T", payload)
	}
	if len(data) > maxLoggedPayload {
		return fmt.Sprintf("%s... (%d bytes)", data[:maxLoggedPayload], len(data))
	}
	return string(data)
}
