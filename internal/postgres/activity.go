package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/rpggio/optrack/internal/repository"
)

const uniqueViolation = "23505"

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS activity_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    operation_type TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT,
    entity_name TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT,
    exception_ref TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_user_started ON activity_logs(user_id, started_at DESC);
CREATE TABLE IF NOT EXISTS api_keys (
    key_hash TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    last_used TIMESTAMPTZ,
    description TEXT
);`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// ActivityRepository implements activity.Repository using PostgreSQL.
type ActivityRepository struct {
	db *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

const selectColumns = `SELECT id, user_id, operation_type, entity_type, entity_id, entity_name,
	status, error_message, exception_ref, retry_count, max_retries,
	started_at, completed_at, created_at, updated_at FROM activity_logs`

func (r *ActivityRepository) Create(ctx context.Context, rec *activity.Record) error {
	query := `
		INSERT INTO activity_logs (
			id, user_id, operation_type, entity_type, entity_id, entity_name,
			status, error_message, exception_ref, retry_count, max_retries,
			started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, string(rec.OperationType), string(rec.EntityType), rec.EntityID, rec.EntityName,
		string(rec.Status), rec.ErrorMessage, rec.ExceptionRef, rec.RetryCount, rec.MaxRetries,
		rec.StartedAt, rec.CompletedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

func (r *ActivityRepository) Get(ctx context.Context, userID, id string) (*activity.Record, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE user_id = $1 AND id = $2", userID, id)
	rec, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity log: %w", err)
	}
	return rec, nil
}

func (r *ActivityRepository) Update(ctx context.Context, rec *activity.Record) error {
	query := `
		UPDATE activity_logs SET
			entity_id = $1, status = $2, error_message = $3, exception_ref = $4,
			retry_count = $5, completed_at = $6, updated_at = $7
		WHERE user_id = $8 AND id = $9`

	result, err := r.db.ExecContext(ctx, query,
		rec.EntityID, string(rec.Status), rec.ErrorMessage, rec.ExceptionRef,
		rec.RetryCount, rec.CompletedAt, rec.UpdatedAt, rec.UserID, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update activity log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *ActivityRepository) List(ctx context.Context, userID string, before *time.Time, limit int) ([]activity.Record, error) {
	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = r.db.QueryContext(ctx,
			selectColumns+" WHERE user_id = $1 AND started_at < $2 ORDER BY started_at DESC, id DESC LIMIT $3",
			userID, *before, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			selectColumns+" WHERE user_id = $1 ORDER BY started_at DESC, id DESC LIMIT $2",
			userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list activity logs: %w", err)
	}
	defer rows.Close()

	out := []activity.Record{}
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *ActivityRepository) DeleteCompletedBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	var result sql.Result
	var err error
	if userID == "" {
		result, err = r.db.ExecContext(ctx,
			"DELETE FROM activity_logs WHERE status = 'success' AND COALESCE(completed_at, started_at) < $1",
			cutoff)
	} else {
		result, err = r.db.ExecContext(ctx,
			"DELETE FROM activity_logs WHERE status = 'success' AND COALESCE(completed_at, started_at) < $1 AND user_id = $2",
			cutoff, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete activity logs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(s rowScanner) (*activity.Record, error) {
	var rec activity.Record
	var opType, entityType, status string
	var entityID, errorMessage, exceptionRef sql.NullString
	var completedAt sql.NullTime

	if err := s.Scan(
		&rec.ID, &rec.UserID, &opType, &entityType, &entityID, &rec.EntityName,
		&status, &errorMessage, &exceptionRef, &rec.RetryCount, &rec.MaxRetries,
		&rec.StartedAt, &completedAt, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.OperationType = operation.OperationType(opType)
	rec.EntityType = operation.EntityType(entityType)
	rec.Status = operation.Status(status)
	if entityID.Valid {
		rec.EntityID = &entityID.String
	}
	if errorMessage.Valid {
		rec.ErrorMessage = &errorMessage.String
	}
	if exceptionRef.Valid {
		rec.ExceptionRef = &exceptionRef.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}
