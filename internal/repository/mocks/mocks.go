package mocks

import (
	"context"
	"time"

	"github.com/rpggio/optrack/internal/diagnostics"
	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/stretchr/testify/mock"
)

// ActivityRepository is a mock for activity.Repository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) Create(ctx context.Context, rec *activity.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *ActivityRepository) Get(ctx context.Context, userID, id string) (*activity.Record, error) {
	args := m.Called(ctx, userID, id)
	if rec, ok := args.Get(0).(*activity.Record); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActivityRepository) Update(ctx context.Context, rec *activity.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *ActivityRepository) List(ctx context.Context, userID string, before *time.Time, limit int) ([]activity.Record, error) {
	args := m.Called(ctx, userID, before, limit)
	if list, ok := args.Get(0).([]activity.Record); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActivityRepository) DeleteCompletedBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, userID, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// ActivityLogClient is a mock for the user-scoped activity log API.
type ActivityLogClient struct {
	mock.Mock
}

func (m *ActivityLogClient) CreateActivityLog(ctx context.Context, req activity.CreateRequest) (*activity.Record, error) {
	args := m.Called(ctx, req)
	if rec, ok := args.Get(0).(*activity.Record); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActivityLogClient) UpdateActivityLog(ctx context.Context, id string, req activity.UpdateRequest) (*activity.Record, error) {
	args := m.Called(ctx, id, req)
	if rec, ok := args.Get(0).(*activity.Record); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActivityLogClient) GetActivityLogs(ctx context.Context, opts activity.ListOptions) (activity.Page, error) {
	args := m.Called(ctx, opts)
	if page, ok := args.Get(0).(activity.Page); ok {
		return page, args.Error(1)
	}
	return activity.Page{}, args.Error(1)
}

// Sink is a mock for diagnostics.Sink.
type Sink struct {
	mock.Mock
}

func (m *Sink) Capture(ctx context.Context, event diagnostics.Event) (string, error) {
	args := m.Called(ctx, event)
	return args.String(0), args.Error(1)
}
