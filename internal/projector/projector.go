// Package projector turns tracked mutations into operations.
package projector

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/rpggio/optrack/internal/mutation"
)

var trackedPrefixes = map[string]bool{
	"todos":    true,
	"subtasks": true,
	"lists":    true,
	"ai":       true,
}

// Trackable reports whether a mutation key belongs to a tracked family.
func Trackable(key mutation.Key) bool {
	return trackedPrefixes[key.Prefix()]
}

// Resolver maps a local operation id to its durable record id.
type Resolver interface {
	Resolve(localID string) (string, bool)
}

// Options supplies the lookups a projection needs.
type Options struct {
	Resolver Resolver
	// ExceptionRef returns the diagnostics reference for a local id, if known.
	ExceptionRef func(localID string) (string, bool)
}

// Project converts a snapshot into operations, one per trackable mutation, in
// the snapshot's order. Mutations without metadata are skipped.
func Project(mutations []mutation.Mutation, opts Options) []operation.Operation {
	ops := make([]operation.Operation, 0, len(mutations))
	for _, m := range mutations {
		if m.Meta == nil || !Trackable(m.Key) {
			continue
		}
		ops = append(ops, projectOne(m, opts))
	}
	return ops
}

func projectOne(m mutation.Mutation, opts Options) operation.Operation {
	meta := m.Meta
	localID := operation.LocalIDFromTime(m.SubmittedAt)

	op := operation.Operation{
		ID:         operation.Local(localID),
		LocalID:    localID,
		Type:       meta.OperationType,
		EntityType: meta.EntityType,
		EntityID:   entityID(m),
		EntityName: entityName(meta, m.Variables),
		Status:     status(m.Status),
		RetryCount: m.FailureCount,
		MaxRetries: m.Retry.MaxRetries(),
		StartedAt:  startedAt(m),
		Variables:  m.Variables,
	}

	if opts.Resolver != nil {
		if durable, ok := opts.Resolver.Resolve(localID); ok {
			op.ID = operation.Durable(durable)
		}
	}
	if op.Status == operation.StatusError {
		op.Error = operation.ClassifyErr(m.Err)
		if opts.ExceptionRef != nil {
			if ref, ok := opts.ExceptionRef(localID); ok {
				op.ExceptionRef = ref
			}
		}
	}
	if op.Status.Terminal() && m.SettledAt != nil {
		completed := *m.SettledAt
		op.CompletedAt = &completed
	}
	return op
}

func status(s mutation.Status) operation.Status {
	switch s {
	case mutation.StatusSuccess:
		return operation.StatusSuccess
	case mutation.StatusError:
		return operation.StatusError
	default:
		return operation.StatusPending
	}
}

func entityName(meta *mutation.Meta, vars any) (name string) {
	fallback := "Unknown " + strings.ReplaceAll(string(meta.EntityType), "_", " ")
	if meta.EntityName == nil {
		return fallback
	}
	defer func() {
		if recover() != nil {
			name = fallback
		}
	}()
	name = strings.TrimSpace(meta.EntityName(vars))
	if name == "" {
		return fallback
	}
	return name
}

func entityID(m mutation.Mutation) string {
	if m.Meta.EntityID != "" {
		return m.Meta.EntityID
	}
	if id := stringField(m.Variables, "id"); id != "" {
		return id
	}
	if m.Status == mutation.StatusSuccess {
		return stringField(m.Result, "id")
	}
	return ""
}

// startedAt prefers a domain timestamp carried by update variables, then the
// submission time, then the metadata timestamp.
func startedAt(m mutation.Mutation) time.Time {
	if m.Meta.OperationType == operation.TypeUpdate {
		for _, name := range []string{"updatedAt", "updated_at", "UpdatedAt"} {
			if ts, ok := timeField(m.Variables, name); ok {
				return ts
			}
		}
	}
	if !m.SubmittedAt.IsZero() {
		return m.SubmittedAt
	}
	return m.Meta.StartedAt
}

func stringField(v any, name string) string {
	raw, ok := lookup(v, name)
	if !ok || raw == nil {
		return ""
	}
	switch s := raw.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case int, int64, float64:
		return fmt.Sprint(s)
	}
	return ""
}

func timeField(v any, name string) (time.Time, bool) {
	raw, ok := lookup(v, name)
	if !ok {
		return time.Time{}, false
	}
	switch ts := raw.(type) {
	case time.Time:
		return ts, !ts.IsZero()
	case *time.Time:
		if ts == nil || ts.IsZero() {
			return time.Time{}, false
		}
		return *ts, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		return parsed, err == nil
	}
	return time.Time{}, false
}
