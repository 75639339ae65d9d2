package activity

import (
	"time"

	"github.com/rpggio/optrack/internal/domain/operation"
)

const (
	// DefaultPageSize is used when a list request carries no limit.
	DefaultPageSize = 20
	// MaxPageSize caps a single page.
	MaxPageSize = 100
)

// CreateRequest describes a new activity log record.
type CreateRequest struct {
	OperationType operation.OperationType `json:"operation_type"`
	EntityType    operation.EntityType    `json:"entity_type"`
	EntityID      *string                 `json:"entity_id,omitempty"`
	EntityName    string                  `json:"entity_name"`
	MaxRetries    int                     `json:"max_retries"`
	StartedAt     *time.Time              `json:"started_at,omitempty"`
}

// UpdateRequest carries a partial update; nil fields are left untouched.
type UpdateRequest struct {
	Status       operation.Status `json:"status"`
	EntityID     *string          `json:"entity_id,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	ExceptionRef *string          `json:"exception_ref,omitempty"`
	RetryCount   *int             `json:"retry_count,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// ListOptions selects a page of history, newest first.
type ListOptions struct {
	Limit  int     `json:"limit,omitempty"`
	Cursor *string `json:"cursor,omitempty"`
}
