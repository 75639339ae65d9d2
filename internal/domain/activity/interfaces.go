package activity

import (
	"context"
	"time"
)

// Repository provides persistence operations for activity log records.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, userID, id string) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	// List returns at most limit records started strictly before the cursor
	// (all records when before is nil), ordered by started_at descending.
	List(ctx context.Context, userID string, before *time.Time, limit int) ([]Record, error)
	// DeleteCompletedBefore removes success records completed before cutoff.
	// An empty userID sweeps every user.
	DeleteCompletedBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}
