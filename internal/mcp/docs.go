package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `optrack keeps a durable activity log of optimistic writes (todos, subtasks, lists and AI-generated todos).

Each record describes one write attempt: its operation type, entity, status (pending, success or error),
retry counts, a user-facing error message and, for failures, a diagnostics reference.

Tools:
- get_activity_logs: page through history, newest first. Pass next_cursor back as cursor.
- get_activity_log: fetch one record by id.
- cleanup_activity_logs: delete successful records older than N days. Pending and failed records are kept.
- classify_error: show the user-facing message for raw error text.

Docs:
- optrack://docs/index
- optrack://docs/activity-log
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
		URI:         "optrack://docs/index",
		Name:        "docs_index",
		Title:       "optrack docs index",
		Description: "Entry point: what the activity log holds and which tools read it.",
		Content: `# optrack: Docs Index

1. ` + "`get_activity_logs`" + ` lists recent activity (20 per page by default, 100 at most).
2. Follow ` + "`next_cursor`" + ` while ` + "`has_more`" + ` is true.
3. ` + "`get_activity_log`" + ` loads one record.

- ` + "`optrack://docs/activity-log`" + ` explains record fields and lifecycle.
`,
	},
	{
		URI:         "optrack://docs/activity-log",
		Name:        "activity_log",
		Title:       "Activity log records",
		Description: "Record fields, status lifecycle and retention.",
		Content: `# Activity log records

A record is created as ` + "`pending`" + ` when a write is first observed and updated once when it settles.

## Fields

- ` + "`operation_type`" + `: create, update or delete.
- ` + "`entity_type`" + `: todo, subtask, list or ai_todo.
- ` + "`entity_id`" + `: set once the server assigned one.
- ` + "`status`" + `: pending, success or error.
- ` + "`error_message`" + `: a fixed user-facing sentence, never the raw error.
- ` + "`exception_ref`" + `: diagnostics reference for failed writes. It can arrive after the status.
- ` + "`retry_count`" + ` / ` + "`max_retries`" + `: attempts that failed and the cap.

## Ordering

History is ordered by ` + "`started_at`" + `, newest first. For updates this is the entity's own
modification time when the write carried one.

## Retention

Only successful records are ever deleted, either by ` + "`cleanup_activity_logs`" + ` or the server's
retention sweep.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
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
