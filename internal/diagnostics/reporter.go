// Package diagnostics reports failed operations to an external sink.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rpggio/optrack/internal/domain/operation"
)

// ErrNoReference is returned by a sink that accepted an event but could not
// produce a reference for it.
var ErrNoReference = errors.New("diagnostics sink returned no reference")

// Failure describes one operation that reached a terminal error.
type Failure struct {
	Err           error
	OperationID   string
	OperationType operation.OperationType
	EntityType    operation.EntityType
	EntityID      string
	RetryCount    int
	MaxRetries    int
	Variables     any
}

// Event is the payload handed to a Sink.
type Event struct {
	Message     string
	Fingerprint []string
	Tags        map[string]string
	Extra       map[string]any
}

// Sink delivers events and returns an opaque reference for each.
type Sink interface {
	Capture(ctx context.Context, event Event) (string, error)
}

// Reporter builds sanitized, fingerprinted events from failures.
type Reporter struct {
	sink   Sink
	logger *slog.Logger
}

// NewReporter creates a reporter writing to sink.
func NewReporter(sink Sink, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reporter{sink: sink, logger: logger}
}

// Report submits the failure and returns the sink's reference. Callers must
// guard against reporting the same operation twice.
func (r *Reporter) Report(ctx context.Context, f Failure) (string, error) {
	msg := "unknown error"
	if f.Err != nil {
		msg = f.Err.Error()
	}

	event := Event{
		Message:     msg,
		Fingerprint: Fingerprint(f.OperationType, f.EntityType, msg),
		Tags: map[string]string{
			"operation_type": string(f.OperationType),
			"entity_type":    string(f.EntityType),
			"error_category": string(operation.Classify(msg)),
		},
		Extra: map[string]any{
			"operation_id": f.OperationID,
			"entity_id":    f.EntityID,
			"retry_count":  strconv.Itoa(f.RetryCount),
			"max_retries":  strconv.Itoa(f.MaxRetries),
			"variables":    Sanitize(f.Variables),
		},
	}

	ref, err := r.sink.Capture(ctx, event)
	if err != nil {
		return "", fmt.Errorf("capturing failure: %w", err)
	}
	if ref == "" {
		return "", ErrNoReference
	}
	r.logger.Debug("failure reported", "op_id", f.OperationID, "ref", ref)
	return ref, nil
}

// Fingerprint groups identical failures of the same kind together.
func Fingerprint(opType operation.OperationType, entityType operation.EntityType, msg string) []string {
	return []string{"mutation-failure", string(opType), string(entityType), msg}
}
