package activity

import (
	"time"

	"github.com/rpggio/optrack/internal/domain/operation"
)

// Record is the durable activity log entry for one tracked operation.
type Record struct {
	ID            string                  `json:"id"`
	UserID        string                  `json:"user_id"`
	OperationType operation.OperationType `json:"operation_type"`
	EntityType    operation.EntityType    `json:"entity_type"`
	EntityID      *string                 `json:"entity_id,omitempty"`
	EntityName    string                  `json:"entity_name"`
	Status        operation.Status        `json:"status"`
	ErrorMessage  *string                 `json:"error_message,omitempty"`
	ExceptionRef  *string                 `json:"exception_ref,omitempty"`
	RetryCount    int                     `json:"retry_count"`
	MaxRetries    int                     `json:"max_retries"`
	StartedAt     time.Time               `json:"started_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// Page is one cursor-delimited slice of activity history.
type Page struct {
	Items      []Record `json:"items"`
	NextCursor *string  `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
}
