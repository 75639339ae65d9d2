package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/rpggio/optrack/internal/repository"
)

// Service handles activity log operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new activity service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Create records a newly observed operation as pending.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	if !req.OperationType.Valid() || !req.EntityType.Valid() || req.MaxRetries < 0 {
		return nil, ErrInvalidInput
	}

	now := s.now()
	startedAt := now
	if req.StartedAt != nil && !req.StartedAt.IsZero() {
		startedAt = *req.StartedAt
	}
	name := strings.TrimSpace(req.EntityName)
	if name == "" {
		name = "Untitled"
	}

	rec := &Record{
		ID:            uuid.NewString(),
		UserID:        userID,
		OperationType: req.OperationType,
		EntityType:    req.EntityType,
		EntityID:      nonEmpty(req.EntityID),
		EntityName:    name,
		Status:        operation.StatusPending,
		MaxRetries:    req.MaxRetries,
		StartedAt:     startedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating activity log: %w", err)
	}
	s.logger.Debug("activity log created", "id", rec.ID, "user_id", userID, "entity_type", rec.EntityType)
	return rec, nil
}

// Get loads a single record owned by the user.
func (s *Service) Get(ctx context.Context, userID, id string) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	rec, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("loading activity log: %w", err)
	}
	return rec, nil
}

// Update applies a partial update to an existing record.
func (s *Service) Update(ctx context.Context, userID, id string, req UpdateRequest) (*Record, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, ErrInvalidInput
	}
	if req.RetryCount != nil && *req.RetryCount < 0 {
		return nil, ErrInvalidInput
	}

	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if req.Status != "" {
		rec.Status = req.Status
	}
	if v := nonEmpty(req.EntityID); v != nil {
		rec.EntityID = v
	}
	if req.ErrorMessage != nil {
		rec.ErrorMessage = req.ErrorMessage
	}
	if req.ExceptionRef != nil {
		rec.ExceptionRef = req.ExceptionRef
	}
	if req.RetryCount != nil {
		rec.RetryCount = *req.RetryCount
	}
	if req.CompletedAt != nil {
		rec.CompletedAt = req.CompletedAt
	}
	rec.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("updating activity log: %w", err)
	}
	return rec, nil
}

// List returns one page of history, newest first. The cursor is the
// RFC3339Nano started_at of the last item of the previous page.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) (Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var before *time.Time
	if opts.Cursor != nil && *opts.Cursor != "" {
		ts, err := time.Parse(time.RFC3339Nano, *opts.Cursor)
		if err != nil {
			return Page{}, fmt.Errorf("%w: bad cursor %q", ErrInvalidInput, *opts.Cursor)
		}
		before = &ts
	}

	items, err := s.repo.List(ctx, userID, before, limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("listing activity logs: %w", err)
	}

	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		cursor := page.Items[limit-1].StartedAt.UTC().Format(time.RFC3339Nano)
		page.NextCursor = &cursor
	}
	if page.Items == nil {
		page.Items = []Record{}
	}
	return page, nil
}

// Cleanup deletes the user's successful records older than the given age.
// Pending and failed records are kept regardless of age.
func (s *Service) Cleanup(ctx context.Context, userID string, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 || strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidInput
	}
	return s.sweep(ctx, userID, olderThanDays)
}

func (s *Service) sweep(ctx context.Context, userID string, olderThanDays int) (int64, error) {
	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	deleted, err := s.repo.DeleteCompletedBefore(ctx, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up activity logs: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("activity logs cleaned up", "user_id", userID, "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// RetentionOptions configures the background sweep.
type RetentionOptions struct {
	Interval      time.Duration
	OlderThanDays int
}

// RunRetention sweeps old successful records for every user until ctx ends.
func (s *Service) RunRetention(ctx context.Context, opts RetentionOptions) {
	if opts.Interval <= 0 || opts.OlderThanDays <= 0 {
		return
	}
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.sweep(ctx, "", opts.OlderThanDays); err != nil {
				s.logger.Warn("retention sweep failed", "error", err)
			}
		}
	}
}

func nonEmpty(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return v
}
