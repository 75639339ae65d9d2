package activity

import "errors"

var (
	// ErrInvalidInput indicates invalid input for activity log operations.
	ErrInvalidInput = errors.New("invalid activity log input")
	// ErrRecordNotFound indicates the activity log record doesn't exist for the user.
	ErrRecordNotFound = errors.New("activity log record not found")
)
