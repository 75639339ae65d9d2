package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpggio/optrack/internal/domain/activity"
)

// Method names served over JSON-RPC.
const (
	MethodCreateActivityLog   = "createActivityLog"
	MethodUpdateActivityLog   = "updateActivityLog"
	MethodGetActivityLog      = "getActivityLog"
	MethodGetActivityLogs     = "getActivityLogs"
	MethodCleanupActivityLogs = "cleanupActivityLogs"
)

// ActivityService is the per-user activity log API.
type ActivityService interface {
	Create(ctx context.Context, userID string, req activity.CreateRequest) (*activity.Record, error)
	Get(ctx context.Context, userID, id string) (*activity.Record, error)
	Update(ctx context.Context, userID, id string, req activity.UpdateRequest) (*activity.Record, error)
	List(ctx context.Context, userID string, opts activity.ListOptions) (activity.Page, error)
	Cleanup(ctx context.Context, userID string, olderThanDays int) (int64, error)
}

// UpdateParams carries the record id alongside the partial update.
type UpdateParams struct {
	ID string `json:"id"`
	activity.UpdateRequest
}

// GetParams names one record.
type GetParams struct {
	ID string `json:"id"`
}

// CleanupParams selects the retention window.
type CleanupParams struct {
	OlderThanDays int `json:"older_than_days"`
}

// CleanupResult reports how many records a cleanup removed.
type CleanupResult struct {
	Deleted int64 `json:"deleted"`
}

// ActivityHandler dispatches JSON-RPC methods onto an ActivityService.
type ActivityHandler struct {
	svc ActivityService
}

// NewActivityHandler creates a handler over svc.
func NewActivityHandler(svc ActivityService) *ActivityHandler {
	return &ActivityHandler{svc: svc}
}

// Handle implements Handler.
func (h *ActivityHandler) Handle(ctx context.Context, userID, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodCreateActivityLog:
		var req activity.CreateRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.svc.Create(ctx, userID, req)
	case MethodUpdateActivityLog:
		var req UpdateParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.svc.Update(ctx, userID, req.ID, req.UpdateRequest)
	case MethodGetActivityLog:
		var req GetParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.svc.Get(ctx, userID, req.ID)
	case MethodGetActivityLogs:
		var req activity.ListOptions
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.svc.List(ctx, userID, req)
	case MethodCleanupActivityLogs:
		var req CleanupParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		deleted, err := h.svc.Cleanup(ctx, userID, req.OlderThanDays)
		if err != nil {
			return nil, err
		}
		return CleanupResult{Deleted: deleted}, nil
	default:
		return nil, &Error{Code: ErrMethodNotFound, Message: "method not found: " + method}
	}
}

func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return fmt.Errorf("%w: %v", activity.ErrInvalidInput, err)
	}
	return nil
}
