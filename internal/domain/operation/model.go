package operation

import (
	"strconv"
	"time"
)

// OperationType is the kind of write an operation performs.
type OperationType string

const (
	TypeCreate OperationType = "create"
	TypeUpdate OperationType = "update"
	TypeDelete OperationType = "delete"
)

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	switch t {
	case TypeCreate, TypeUpdate, TypeDelete:
		return true
	}
	return false
}

// EntityType identifies what an operation writes to.
type EntityType string

const (
	EntityTodo    EntityType = "todo"
	EntitySubtask EntityType = "subtask"
	EntityList    EntityType = "list"
	EntityAITodo  EntityType = "ai_todo"
)

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	switch e {
	case EntityTodo, EntitySubtask, EntityList, EntityAITodo:
		return true
	}
	return false
}

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a settled state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Operation is the in-memory view of one tracked write attempt.
type Operation struct {
	ID           Identity      `json:"id"`
	LocalID      string        `json:"local_id"`
	Type         OperationType `json:"type"`
	EntityType   EntityType    `json:"entity_type"`
	EntityID     string        `json:"entity_id,omitempty"`
	EntityName   string        `json:"entity_name"`
	Status       Status        `json:"status"`
	RetryCount   int           `json:"retry_count"`
	MaxRetries   int           `json:"max_retries"`
	Error        string        `json:"error,omitempty"`
	ExceptionRef string        `json:"exception_ref,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Variables    any           `json:"-"`
}

// IsRetrying is true while a pending operation has already failed at least once.
func (o Operation) IsRetrying() bool {
	return o.Status == StatusPending && o.RetryCount > 0
}

// LocalIDFromTime renders a submission timestamp as a local operation id.
func LocalIDFromTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
