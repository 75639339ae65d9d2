package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/repository"
)

// ActivityRepository implements activity.Repository for SQLite
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

const activityColumns = `
	id, user_id, operation_type, entity_type, entity_id, entity_name,
	status, error_message, exception_ref, retry_count, max_retries,
	started_at, completed_at, created_at, updated_at`

// Create inserts a new activity log record
func (r *ActivityRepository) Create(ctx context.Context, rec *activity.Record) error {
	query := `INSERT INTO activity_logs (` + activityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.OperationType,
		rec.EntityType,
		rec.EntityID,
		rec.EntityName,
		rec.Status,
		rec.ErrorMessage,
		rec.ExceptionRef,
		rec.RetryCount,
		rec.MaxRetries,
		rec.StartedAt.UnixNano(),
		nanos(rec.CompletedAt),
		rec.CreatedAt.UnixNano(),
		rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// Get retrieves a record by id, scoped to the user
func (r *ActivityRepository) Get(ctx context.Context, userID, id string) (*activity.Record, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_logs WHERE user_id = ? AND id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity log: %w", err)
	}
	return rec, nil
}

// Update writes the mutable fields of an existing record
func (r *ActivityRepository) Update(ctx context.Context, rec *activity.Record) error {
	query := `
		UPDATE activity_logs SET
			entity_id = ?, status = ?, error_message = ?, exception_ref = ?,
			retry_count = ?, completed_at = ?, updated_at = ?
		WHERE user_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rec.EntityID,
		rec.Status,
		rec.ErrorMessage,
		rec.ExceptionRef,
		rec.RetryCount,
		nanos(rec.CompletedAt),
		rec.UpdatedAt.UnixNano(),
		rec.UserID,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update activity log: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns the user's records newest first, strictly before the cursor
func (r *ActivityRepository) List(ctx context.Context, userID string, before *time.Time, limit int) ([]activity.Record, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_logs WHERE user_id = ?`
	args := []any{userID}

	if before != nil {
		query += " AND started_at < ?"
		args = append(args, before.UnixNano())
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity logs: %w", err)
	}
	defer rows.Close()

	records := []activity.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return records, nil
}

// DeleteCompletedBefore removes successful records completed before cutoff.
// Records without a completion time fall back to their start time.
func (r *ActivityRepository) DeleteCompletedBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	query := `DELETE FROM activity_logs
		WHERE status = 'success' AND COALESCE(completed_at, started_at) < ?`
	args := []any{cutoff.UnixNano()}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete activity logs: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*activity.Record, error) {
	var rec activity.Record
	var entityID, errorMessage, exceptionRef sql.NullString
	var startedAt, createdAt, updatedAt int64
	var completedAt sql.NullInt64

	if err := s.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.OperationType,
		&rec.EntityType,
		&entityID,
		&rec.EntityName,
		&rec.Status,
		&errorMessage,
		&exceptionRef,
		&rec.RetryCount,
		&rec.MaxRetries,
		&startedAt,
		&completedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	rec.EntityID = stringPtr(entityID)
	rec.ErrorMessage = stringPtr(errorMessage)
	rec.ExceptionRef = stringPtr(exceptionRef)
	rec.StartedAt = time.Unix(0, startedAt).UTC()
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		rec.CompletedAt = &t
	}
	return &rec, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
