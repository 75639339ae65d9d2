package mcp

import (
	"context"
	"errors"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/domain/operation"
)

var errNoUser = errors.New("unauthorized: no user in context")

// GetActivityLogsInput selects a page of history.
type GetActivityLogsInput struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"page size, default 20, at most 100"`
	Cursor string `json:"cursor,omitempty" jsonschema:"next_cursor from the previous page"`
}

// ActivityPage is one page of activity history, newest first.
type ActivityPage struct {
	Items      []activity.Record `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

// GetActivityLogInput names one record.
type GetActivityLogInput struct {
	ID string `json:"id" jsonschema:"activity log record id"`
}

// CleanupInput selects the retention window.
type CleanupInput struct {
	OlderThanDays int `json:"older_than_days" jsonschema:"delete successful records completed more than this many days ago"`
}

// CleanupOutput reports how many records were removed.
type CleanupOutput struct {
	Deleted int64 `json:"deleted"`
}

// ClassifyErrorInput carries raw error text.
type ClassifyErrorInput struct {
	Message string `json:"message" jsonschema:"raw error text"`
}

// ClassifyErrorOutput is the user-facing rendering of an error.
type ClassifyErrorOutput struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func registerTools(server *sdkmcp.Server, services Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_activity_logs",
		Description: "List the caller's activity log, newest first, one page at a time",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in GetActivityLogsInput) (*sdkmcp.CallToolResult, ActivityPage, error) {
		userID := getUserID(ctx)
		if userID == "" {
			return nil, ActivityPage{}, errNoUser
		}
		opts := activity.ListOptions{Limit: in.Limit}
		if in.Cursor != "" {
			opts.Cursor = &in.Cursor
		}
		page, err := services.Activity.List(ctx, userID, opts)
		if err != nil {
			return nil, ActivityPage{}, toolError(err)
		}
		out := ActivityPage{Items: page.Items, HasMore: page.HasMore}
		if out.Items == nil {
			out.Items = []activity.Record{}
		}
		if page.NextCursor != nil {
			out.NextCursor = *page.NextCursor
		}
		return nil, out, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_activity_log",
		Description: "Get one activity log record by id",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in GetActivityLogInput) (*sdkmcp.CallToolResult, *activity.Record, error) {
		userID := getUserID(ctx)
		if userID == "" {
			return nil, nil, errNoUser
		}
		rec, err := services.Activity.Get(ctx, userID, in.ID)
		if err != nil {
			return nil, nil, toolError(err)
		}
		return nil, rec, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "cleanup_activity_logs",
		Description: "Delete successful activity log records older than the given number of days. Pending and failed records are kept",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in CleanupInput) (*sdkmcp.CallToolResult, CleanupOutput, error) {
		userID := getUserID(ctx)
		if userID == "" {
			return nil, CleanupOutput{}, errNoUser
		}
		deleted, err := services.Activity.Cleanup(ctx, userID, in.OlderThanDays)
		if err != nil {
			return nil, CleanupOutput{}, toolError(err)
		}
		return nil, CleanupOutput{Deleted: deleted}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "classify_error",
		Description: "Map raw error text to the user-facing message shown in the activity log",
	}, func(_ context.Context, _ *sdkmcp.CallToolRequest, in ClassifyErrorInput) (*sdkmcp.CallToolResult, ClassifyErrorOutput, error) {
		return nil, ClassifyErrorOutput{
			Category: string(operation.Classify(in.Message)),
			Message:  operation.ClassifyError(in.Message),
		}, nil
	})
}
