package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rpggio/optrack/internal/repository"
)

// APIKeyStore maps hashed bearer tokens to user ids.
type APIKeyStore struct {
	db *sql.DB
}

func NewAPIKeyStore(db *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// Add registers token for userID. Only the token hash is stored.
func (s *APIKeyStore) Add(ctx context.Context, token, userID, description string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, user_id, created_at, description) VALUES ($1, $2, $3, $4)`,
		hashToken(token), userID, time.Now().UTC(), description,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to add api key: %w", err)
	}
	return nil
}

// ResolveUser returns the user owning token and stamps its last use.
func (s *APIKeyStore) ResolveUser(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`UPDATE api_keys SET last_used = $1 WHERE key_hash = $2 RETURNING user_id`,
		time.Now().UTC(), hashToken(token),
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve api key: %w", err)
	}
	return userID, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
