package mutation

import (
	"time"

	"github.com/rpggio/optrack/internal/domain/operation"
)

// Status is the lifecycle state the runtime tracks for a mutation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// DefaultMaxRetries applies when a policy neither disables retries nor sets a cap.
const DefaultMaxRetries = 3

// RetryPolicy is the retry configuration attached to one mutation.
type RetryPolicy struct {
	Disabled bool
	Max      int
}

// MaxRetries resolves the policy into a retry cap.
func (p RetryPolicy) MaxRetries() int {
	switch {
	case p.Disabled:
		return 0
	case p.Max > 0:
		return p.Max
	default:
		return DefaultMaxRetries
	}
}

// NameExtractor derives a display label from mutation variables.
type NameExtractor func(vars any) string

// Meta is the declared metadata that makes a mutation trackable.
type Meta struct {
	OperationType operation.OperationType
	EntityType    operation.EntityType
	EntityName    NameExtractor
	EntityID      string
	StartedAt     time.Time
}

// Key identifies the family a mutation belongs to, e.g. {"todos", "create"}.
type Key []string

// Prefix returns the first key segment.
func (k Key) Prefix() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// Mutation is a point-in-time view of one tracked write.
type Mutation struct {
	ID           int64
	Key          Key
	Status       Status
	SubmittedAt  time.Time
	FailureCount int
	Retry        RetryPolicy
	Variables    any
	Result       any
	Err          error
	Meta         *Meta
	SettledAt    *time.Time
}

// Runtime exposes the tracked mutation set to observers.
type Runtime interface {
	Snapshot() []Mutation
	// Subscribe registers fn to be called after every change and returns a
	// function that removes it.
	Subscribe(fn func()) func()
}
