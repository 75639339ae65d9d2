// Package persist mirrors tracked operations into the activity log exactly once.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/domain/operation"
)

// ActivityLog is the write side of the activity log service.
type ActivityLog interface {
	CreateActivityLog(ctx context.Context, req activity.CreateRequest) (*activity.Record, error)
	UpdateActivityLog(ctx context.Context, id string, req activity.UpdateRequest) (*activity.Record, error)
}

// Stage names a persistence call for failure reporting.
type Stage string

const (
	StageCreate Stage = "create"
	StageUpdate Stage = "update"
	StageRef    Stage = "exception_ref"
)

// Options configures a Synchronizer.
type Options struct {
	Correlation *CorrelationStore
	// Dispatch runs a persistence call off the caller's goroutine.
	Dispatch func(func())
	// OnChange is called after a persistence call succeeds.
	OnChange func()
	// OnFailure is called after a persistence call fails.
	OnFailure func(stage Stage, err error)
	Logger    *slog.Logger
	// Timeout bounds each persistence call. Zero means no bound.
	Timeout time.Duration
	Clock   func() time.Time
}

// Synchronizer drives the per-operation persistence state machine. Sync never
// blocks on the network: calls run through Dispatch and report back through
// OnChange, after which the caller is expected to Sync again.
type Synchronizer struct {
	client ActivityLog
	store  *CorrelationStore
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	states  map[string]PersistenceState // by local id
	updated map[string]bool             // by durable id
	refs    map[string]refState         // by durable id
	// refValues holds references still to be written, by durable id. They
	// outlive the per-operation state so a late reference still lands.
	refValues map[string]string
	failed    bool
}

// NewSynchronizer creates a synchronizer writing through client.
func NewSynchronizer(client ActivityLog, opts Options) *Synchronizer {
	if opts.Correlation == nil {
		opts.Correlation = NewCorrelationStore()
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(fn func()) { go fn() }
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synchronizer{
		client:  client,
		store:   opts.Correlation,
		opts:    opts,
		logger:  logger,
		states:  make(map[string]PersistenceState),
		updated: make(map[string]bool),
		refs:    make(map[string]refState),

		refValues: make(map[string]string),
	}
}

// Correlation returns the store the synchronizer binds ids into.
func (s *Synchronizer) Correlation() *CorrelationStore { return s.store }

// Sync advances every operation's state machine by at most one step.
func (s *Synchronizer) Sync(ctx context.Context, ops []operation.Operation) {
	var calls []func()

	s.mu.Lock()
	s.failed = false
	for _, op := range ops {
		if call := s.step(ctx, op); call != nil {
			calls = append(calls, call)
		}
	}
	calls = append(calls, s.pendingRefs(ctx)...)
	s.mu.Unlock()

	for _, call := range calls {
		s.opts.Dispatch(call)
	}
}

// step must be called with s.mu held.
func (s *Synchronizer) step(ctx context.Context, op operation.Operation) func() {
	local := op.LocalID
	switch s.states[local] {
	case StateUnseen:
		s.states[local] = StateCreating
		return func() { s.create(ctx, op) }

	case StateCreated:
		if !op.Status.Terminal() {
			return nil
		}
		durable, ok := s.store.Resolve(local)
		if !ok || s.updated[durable] {
			return nil
		}
		s.states[local] = StateUpdating
		var ref string
		if op.Status == operation.StatusError && s.refs[durable] == refNone {
			ref = op.ExceptionRef
			if ref == "" {
				ref = s.refValues[durable]
			}
		}
		if ref != "" {
			s.refs[durable] = refUpdating
		}
		return func() { s.update(ctx, op, durable, ref) }

	case StateSettled:
		if op.Status != operation.StatusError || op.ExceptionRef == "" {
			return nil
		}
		durable, ok := s.store.Resolve(local)
		if ok && s.refs[durable] == refNone {
			s.refValues[durable] = op.ExceptionRef
		}
	}
	// Creating and Updating wait for their in-flight call.
	return nil
}

func (s *Synchronizer) create(ctx context.Context, op operation.Operation) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	startedAt := op.StartedAt
	req := activity.CreateRequest{
		OperationType: op.Type,
		EntityType:    op.EntityType,
		EntityID:      optional(op.EntityID),
		EntityName:    op.EntityName,
		MaxRetries:    op.MaxRetries,
		StartedAt:     &startedAt,
	}

	rec, err := s.client.CreateActivityLog(ctx, req)
	if err != nil {
		s.fail(StageCreate, op.LocalID, err, func() { s.states[op.LocalID] = StateUnseen })
		return
	}

	if err := s.store.Bind(op.LocalID, rec.ID); err != nil {
		s.logger.Error("activity log correlation conflict", "op_id", op.LocalID, "durable_id", rec.ID, "error", err)
		s.fail(StageCreate, op.LocalID, fmt.Errorf("bind %s: %w", rec.ID, err), func() { s.states[op.LocalID] = StateUnseen })
		return
	}

	s.mu.Lock()
	s.states[op.LocalID] = StateCreated
	s.mu.Unlock()

	s.logger.Debug("activity log created", "op_id", op.LocalID, "durable_id", rec.ID)
	s.changed()
}

func (s *Synchronizer) update(ctx context.Context, op operation.Operation, durable, ref string) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	retryCount := op.RetryCount
	completedAt := s.opts.Clock()
	if op.CompletedAt != nil {
		completedAt = *op.CompletedAt
	}
	req := activity.UpdateRequest{
		Status:      op.Status,
		EntityID:    optional(op.EntityID),
		RetryCount:  &retryCount,
		CompletedAt: &completedAt,
	}
	if op.Status == operation.StatusError {
		req.ErrorMessage = optional(op.Error)
	}
	req.ExceptionRef = optional(ref)

	if _, err := s.client.UpdateActivityLog(ctx, durable, req); err != nil {
		s.fail(StageUpdate, op.LocalID, err, func() {
			s.states[op.LocalID] = StateCreated
			if ref != "" {
				s.refs[durable] = refNone
			}
		})
		return
	}

	s.mu.Lock()
	s.updated[durable] = true
	s.states[op.LocalID] = StateSettled
	if ref != "" {
		s.refs[durable] = refSent
		delete(s.refValues, durable)
	}
	s.mu.Unlock()

	s.logger.Debug("activity log settled", "op_id", op.LocalID, "durable_id", durable, "status", op.Status)
	s.changed()
}

// pendingRefs must be called with s.mu held. A reference is only sent once the
// terminal update has landed, whether or not its operation is still tracked.
func (s *Synchronizer) pendingRefs(ctx context.Context) []func() {
	var calls []func()
	for durable, ref := range s.refValues {
		if !s.updated[durable] || s.refs[durable] != refNone {
			continue
		}
		s.refs[durable] = refUpdating
		local, _ := s.store.Local(durable)
		calls = append(calls, func() { s.sendRef(ctx, local, durable, ref) })
	}
	return calls
}

func (s *Synchronizer) sendRef(ctx context.Context, local, durable, ref string) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if _, err := s.client.UpdateActivityLog(ctx, durable, activity.UpdateRequest{ExceptionRef: &ref}); err != nil {
		s.fail(StageRef, local, err, func() { s.refs[durable] = refNone })
		return
	}

	s.mu.Lock()
	s.refs[durable] = refSent
	delete(s.refValues, durable)
	s.mu.Unlock()

	s.logger.Debug("activity log exception ref sent", "op_id", local, "durable_id", durable)
	s.changed()
}

// AttachRef queues a diagnostics reference for the record bound to local. The
// reference is written on a later Sync even if the operation has been
// forgotten by then. It reports whether local is bound.
func (s *Synchronizer) AttachRef(local, ref string) bool {
	if ref == "" {
		return false
	}
	durable, ok := s.store.Resolve(local)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[durable] == refNone {
		s.refValues[durable] = ref
	}
	return true
}

// fail reverts the guard so a later Sync retries the call.
func (s *Synchronizer) fail(stage Stage, local string, err error, revert func()) {
	s.mu.Lock()
	revert()
	s.failed = true
	s.mu.Unlock()

	s.logger.Warn("activity log persistence failed", "stage", stage, "op_id", local, "error", err)
	if s.opts.OnFailure != nil {
		s.opts.OnFailure(stage, err)
	}
}

func (s *Synchronizer) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *Synchronizer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// State returns the persistence state of a local operation id.
func (s *Synchronizer) State(local string) PersistenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[local]
}

// NeedsRetry reports whether a call failed since the last Sync.
func (s *Synchronizer) NeedsRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Forget drops the per-operation state of a settled operation that is no
// longer tracked. Guards and queued references keyed by durable id are kept.
func (s *Synchronizer) Forget(local string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[local] != StateSettled {
		return false
	}
	delete(s.states, local)
	return true
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
