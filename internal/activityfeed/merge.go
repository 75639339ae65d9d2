package activityfeed

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/domain/operation"
)

// DisplayEntry is one row of the merged activity list.
type DisplayEntry struct {
	ID            string                  `json:"id"`
	OperationType operation.OperationType `json:"operation_type"`
	EntityType    operation.EntityType    `json:"entity_type"`
	EntityID      string                  `json:"entity_id,omitempty"`
	EntityName    string                  `json:"entity_name"`
	Status        operation.Status        `json:"status"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	ExceptionRef  string                  `json:"exception_ref,omitempty"`
	RetryCount    int                     `json:"retry_count"`
	MaxRetries    int                     `json:"max_retries"`
	StartedAt     time.Time               `json:"started_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	IsRetrying    bool                    `json:"is_retrying"`
	IsLive        bool                    `json:"is_live"`
	RelativeTime  string                  `json:"relative_time,omitempty"`
}

// Merge combines live pending operations with historical records. A pending
// operation always wins over a historical record with the same id, and no id
// appears twice. Entries are ordered by StartedAt, newest first.
func Merge(live []operation.Operation, history []activity.Record, now time.Time) []DisplayEntry {
	entries := make([]DisplayEntry, 0, len(live)+len(history))
	seen := make(map[string]bool, len(live)+len(history))

	for _, op := range live {
		if op.Status != operation.StatusPending {
			continue
		}
		id := op.ID.String()
		if seen[id] {
			continue
		}
		seen[id] = true
		entries = append(entries, fromOperation(op))
	}

	for _, rec := range history {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		entries = append(entries, fromRecord(rec, now))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].StartedAt.Equal(entries[j].StartedAt) {
			return entries[i].StartedAt.After(entries[j].StartedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

func fromOperation(op operation.Operation) DisplayEntry {
	return DisplayEntry{
		ID:            op.ID.String(),
		OperationType: op.Type,
		EntityType:    op.EntityType,
		EntityID:      op.EntityID,
		EntityName:    op.EntityName,
		Status:        op.Status,
		RetryCount:    op.RetryCount,
		MaxRetries:    op.MaxRetries,
		StartedAt:     op.StartedAt,
		IsRetrying:    op.IsRetrying(),
		IsLive:        true,
	}
}

func fromRecord(rec activity.Record, now time.Time) DisplayEntry {
	entry := DisplayEntry{
		ID:            rec.ID,
		OperationType: rec.OperationType,
		EntityType:    rec.EntityType,
		EntityID:      deref(rec.EntityID),
		EntityName:    rec.EntityName,
		Status:        rec.Status,
		ErrorMessage:  deref(rec.ErrorMessage),
		ExceptionRef:  deref(rec.ExceptionRef),
		RetryCount:    rec.RetryCount,
		MaxRetries:    rec.MaxRetries,
		StartedAt:     rec.StartedAt,
		CompletedAt:   rec.CompletedAt,
		IsRetrying:    rec.Status == operation.StatusPending && rec.RetryCount > 0,
	}
	if rec.CompletedAt != nil {
		entry.RelativeTime = humanize.RelTime(*rec.CompletedAt, now, "ago", "from now")
	}
	return entry
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
