package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/rpggio/optrack/internal/repository"
	"github.com/stretchr/testify/require"
)

func newRecord(id, userID string, started time.Time) *activity.Record {
	return &activity.Record{
		ID:            id,
		UserID:        userID,
		OperationType: operation.TypeCreate,
		EntityType:    operation.EntityTodo,
		EntityName:    "Todo " + id,
		Status:        operation.StatusPending,
		MaxRetries:    3,
		StartedAt:     started,
		CreatedAt:     started,
		UpdatedAt:     started,
	}
}

func TestActivityRepository_CreateGet(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActivityRepository(db)

	started := time.Date(2026, 5, 1, 9, 30, 0, 123456789, time.UTC)
	rec := newRecord("a1", "user1", started)
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.Get(ctx, "user1", "a1")
	require.NoError(t, err)
	require.Equal(t, "Todo a1", got.EntityName)
	require.Equal(t, operation.StatusPending, got.Status)
	require.True(t, started.Equal(got.StartedAt))
	require.Nil(t, got.EntityID)
	require.Nil(t, got.CompletedAt)

	_, err = repo.Get(ctx, "user2", "a1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.ErrorIs(t, repo.Create(ctx, rec), repository.ErrConflict)
}

func TestActivityRepository_Update(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActivityRepository(db)

	rec := newRecord("a1", "user1", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, rec))

	entityID := "todo-9"
	ref := "ref-1"
	msg := "Network error. Please check your connection and try again."
	done := time.Now().UTC()
	rec.EntityID = &entityID
	rec.Status = operation.StatusError
	rec.ErrorMessage = &msg
	rec.ExceptionRef = &ref
	rec.RetryCount = 3
	rec.CompletedAt = &done
	require.NoError(t, repo.Update(ctx, rec))

	got, err := repo.Get(ctx, "user1", "a1")
	require.NoError(t, err)
	require.Equal(t, operation.StatusError, got.Status)
	require.Equal(t, entityID, *got.EntityID)
	require.Equal(t, msg, *got.ErrorMessage)
	require.Equal(t, ref, *got.ExceptionRef)
	require.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.CompletedAt)

	missing := newRecord("nope", "user1", time.Now())
	require.ErrorIs(t, repo.Update(ctx, missing), repository.ErrNotFound)
}

func TestActivityRepository_ListCursorAndIsolation(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActivityRepository(db)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newRecord(fmt.Sprintf("a%d", i), "user1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, repo.Create(ctx, newRecord("other", "user2", base)))

	first, err := repo.List(ctx, "user1", nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.Equal(t, "a4", first[0].ID)
	require.Equal(t, "a2", first[2].ID)

	cursor := first[2].StartedAt
	rest, err := repo.List(ctx, "user1", &cursor, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, "a1", rest[0].ID)
	require.Equal(t, "a0", rest[1].ID)

	none, err := repo.List(ctx, "user3", nil, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestActivityRepository_DeleteCompletedBefore(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActivityRepository(db)

	old := time.Now().Add(-40 * 24 * time.Hour).UTC()
	recent := time.Now().UTC()

	oldSuccess := newRecord("old-success", "user1", old)
	oldSuccess.Status = operation.StatusSuccess
	oldSuccess.CompletedAt = &old
	oldError := newRecord("old-error", "user1", old)
	oldError.Status = operation.StatusError
	oldError.CompletedAt = &old
	oldPending := newRecord("old-pending", "user1", old)
	newSuccess := newRecord("new-success", "user1", recent)
	newSuccess.Status = operation.StatusSuccess
	newSuccess.CompletedAt = &recent
	otherUser := newRecord("other-success", "user2", old)
	otherUser.Status = operation.StatusSuccess
	otherUser.CompletedAt = &old

	for _, rec := range []*activity.Record{oldSuccess, oldError, oldPending, newSuccess, otherUser} {
		require.NoError(t, repo.Create(ctx, rec))
	}

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	deleted, err := repo.DeleteCompletedBefore(ctx, "user1", cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	remaining, err := repo.List(ctx, "user1", nil, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 3)

	deleted, err = repo.DeleteCompletedBefore(ctx, "", cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}

func TestAPIKeyStore(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewAPIKeyStore(db)

	require.NoError(t, store.Add(ctx, "secret-token", "user1", "laptop"))
	require.ErrorIs(t, store.Add(ctx, "secret-token", "user2", ""), repository.ErrConflict)

	userID, err := store.ResolveUser(ctx, "secret-token")
	require.NoError(t, err)
	require.Equal(t, "user1", userID)

	_, err = store.ResolveUser(ctx, "wrong")
	require.ErrorIs(t, err, repository.ErrNotFound)

	var stored string
	require.NoError(t, db.QueryRow(`SELECT key_hash FROM api_keys`).Scan(&stored))
	require.NotEqual(t, "secret-token", stored)
	require.Equal(t, HashToken("secret-token"), stored)
}
