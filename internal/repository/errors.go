package repository

import "errors"

var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a record with the same id already exists
	ErrConflict = errors.New("conflict: record already exists")

	// ErrInvalidInput is returned when a storage-level constraint rejects input
	ErrInvalidInput = errors.New("invalid input")
)
