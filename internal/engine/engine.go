// Package engine composes the operation tracking components into one
// observable state, re-evaluated whenever the mutation set changes.
package engine

import (
	"context"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rpggio/optrack/internal/activityfeed"
	"github.com/rpggio/optrack/internal/diagnostics"
	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/rpggio/optrack/internal/mutation"
	"github.com/rpggio/optrack/internal/persist"
	"github.com/rpggio/optrack/internal/progress"
	"github.com/rpggio/optrack/internal/projector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Reporter submits terminal failures to diagnostics.
type Reporter interface {
	Report(ctx context.Context, f diagnostics.Failure) (string, error)
}

// Pruner is implemented by runtimes that drop settled mutations on demand.
type Pruner interface {
	Prune() int
}

// Config tunes the engine.
type Config struct {
	PageSize int `yaml:"page_size"`
	// FrameInterval is how often state is re-evaluated while the progress
	// indicator animates.
	FrameInterval time.Duration `yaml:"frame_interval"`
	// ResyncInterval is how often failed persistence calls are retried.
	ResyncInterval time.Duration `yaml:"resync_interval"`
	// GCInterval is how often a pruning runtime is asked to drop settled
	// mutations.
	GCInterval     time.Duration   `yaml:"gc_interval"`
	PersistTimeout time.Duration   `yaml:"persist_timeout"`
	Progress       progress.Config `yaml:"progress"`
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:       20,
		FrameInterval:  50 * time.Millisecond,
		ResyncInterval: 2 * time.Second,
		GCInterval:     30 * time.Second,
		PersistTimeout: 10 * time.Second,
		Progress:       progress.DefaultConfig(),
	}
}

// Deps are the engine's collaborators.
type Deps struct {
	Runtime     mutation.Runtime
	ActivityLog persist.ActivityLog
	Feed        activityfeed.Source
	Reporter    Reporter
	Logger      *slog.Logger
	Clock       func() time.Time
	Meter       metric.Meter
	// Dispatch runs network calls off the tick. Defaults to a new goroutine.
	Dispatch func(func())
}

// State is what the UI layer renders.
type State struct {
	PendingCount         int                         `json:"pending_count"`
	HasPendingOperations bool                        `json:"has_pending_operations"`
	ActivityLog          []activityfeed.DisplayEntry `json:"activity_log"`
	HasNextPage          bool                        `json:"has_next_page"`
	IsFetchingNextPage   bool                        `json:"is_fetching_next_page"`
	IsLoadingActivity    bool                        `json:"is_loading_activity"`
	ProgressValue        float64                     `json:"progress_value"`
	IsVisible            bool                        `json:"is_visible"`
	DrawerOpen           bool                        `json:"drawer_open"`
}

// Engine is the reconciliation composition root. Construct one per session.
type Engine struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	sync     *persist.Synchronizer
	feed     *activityfeed.Paginator
	progress *progress.Aggregator
	metrics  *engineMetrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	unsub  func()

	evalMu    sync.Mutex
	dirty     atomic.Bool
	feedStale atomic.Bool
	kick      chan struct{}
	tracked   map[string]bool

	refMu    sync.Mutex
	reported map[string]bool
	refs     map[string]string

	stateMu     sync.Mutex
	state       State
	drawerOpen  bool
	subscribers map[int]func(State)
	nextSub     int
}

// New wires an engine. It does nothing until Start or Tick is called.
func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = def.ResyncInterval
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = def.GCInterval
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Dispatch == nil {
		deps.Dispatch = func(fn func()) { go fn() }
	}
	if deps.Meter == nil {
		deps.Meter = otel.GetMeterProvider().Meter("github.com/rpggio/optrack/internal/engine")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		feed:        activityfeed.NewPaginator(deps.Feed, cfg.PageSize, logger),
		progress:    progress.New(cfg.Progress),
		metrics:     newEngineMetrics(deps.Meter, logger),
		ctx:         context.Background(),
		kick:        make(chan struct{}, 1),
		tracked:     make(map[string]bool),
		reported:    make(map[string]bool),
		refs:        make(map[string]string),
		subscribers: make(map[int]func(State)),
	}
	e.sync = persist.NewSynchronizer(deps.ActivityLog, persist.Options{
		Dispatch: deps.Dispatch,
		OnChange: func() {
			e.feedStale.Store(true)
			e.Tick(e.baseContext())
		},
		OnFailure: func(stage persist.Stage, err error) {
			e.metrics.persistFailure(e.baseContext(), stage)
		},
		Logger:  logger,
		Timeout: cfg.PersistTimeout,
		Clock:   deps.Clock,
	})
	return e
}

// Start subscribes to the runtime, loads the first history page, and runs the
// frame loop until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.stateMu.Lock()
	e.ctx = ctx
	e.cancel = cancel
	e.done = make(chan struct{})
	e.stateMu.Unlock()

	e.unsub = e.deps.Runtime.Subscribe(e.requestTick)
	e.loadHistory(ctx)
	go e.run(ctx)
	e.requestTick()
}

// Stop ends the frame loop and unsubscribes from the runtime.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.stateMu.Lock()
	cancel, done := e.cancel, e.done
	e.stateMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	frame := time.NewTicker(e.cfg.FrameInterval)
	defer frame.Stop()
	resync := time.NewTicker(e.cfg.ResyncInterval)
	defer resync.Stop()
	gc := time.NewTicker(e.cfg.GCInterval)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
			e.Tick(ctx)
		case <-frame.C:
			if e.progress.Animating(e.deps.Clock()) {
				e.Tick(ctx)
			}
		case <-resync.C:
			if e.sync.NeedsRetry() {
				e.Tick(ctx)
			}
		case <-gc.C:
			e.CollectGarbage(ctx)
		}
	}
}

func (e *Engine) requestTick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) baseContext() context.Context {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.ctx
}

func (e *Engine) loadHistory(ctx context.Context) {
	e.deps.Dispatch(func() {
		if err := e.feed.LoadInitial(ctx); err != nil {
			e.logger.Warn("activity history load failed", "error", err)
		}
		e.Tick(ctx)
	})
}

// LoadHistory fetches the first history page and re-evaluates.
func (e *Engine) LoadHistory(ctx context.Context) error {
	err := e.feed.LoadInitial(ctx)
	e.Tick(ctx)
	return err
}

// Tick re-evaluates the derived state. Concurrent calls coalesce: a caller
// that finds an evaluation running leaves it to re-run.
func (e *Engine) Tick(ctx context.Context) {
	e.dirty.Store(true)
	for {
		if !e.evalMu.TryLock() {
			return
		}
		for e.dirty.Swap(false) {
			e.evaluate(ctx)
		}
		e.evalMu.Unlock()
		if !e.dirty.Load() {
			return
		}
	}
}

func (e *Engine) evaluate(ctx context.Context) {
	now := e.deps.Clock()
	snapshot := e.deps.Runtime.Snapshot()

	ops := projector.Project(snapshot, projector.Options{
		Resolver:     e.sync.Correlation(),
		ExceptionRef: e.exceptionRef,
	})

	e.reportFailures(ctx, snapshot, ops)
	e.sync.Sync(ctx, ops)
	e.forgetUntracked(ops)

	pending := 0
	for _, op := range ops {
		if op.Status == operation.StatusPending {
			pending++
		}
	}
	e.progress.Observe(pending, now)
	e.metrics.pending(ctx, pending)

	if e.feedStale.Swap(false) {
		e.deps.Dispatch(func() {
			if err := e.feed.Refresh(ctx); err != nil {
				e.logger.Warn("activity history refresh failed", "error", err)
			}
			e.Tick(ctx)
		})
	}

	e.publish(e.resolveIDs(ops), pending, now)
}

// resolveIDs applies bindings made by persistence calls that completed during
// this evaluation.
func (e *Engine) resolveIDs(ops []operation.Operation) []operation.Operation {
	store := e.sync.Correlation()
	for i := range ops {
		if ops[i].ID.IsDurable() {
			continue
		}
		if durable, ok := store.Resolve(ops[i].LocalID); ok {
			ops[i].ID = operation.Durable(durable)
		}
	}
	return ops
}

func (e *Engine) reportFailures(ctx context.Context, snapshot []mutation.Mutation, ops []operation.Operation) {
	if e.deps.Reporter == nil {
		return
	}
	raw := make(map[string]mutation.Mutation, len(snapshot))
	for _, m := range snapshot {
		raw[operation.LocalIDFromTime(m.SubmittedAt)] = m
	}

	for _, op := range ops {
		if op.Status != operation.StatusError {
			continue
		}
		e.refMu.Lock()
		seen := e.reported[op.LocalID]
		e.reported[op.LocalID] = true
		e.refMu.Unlock()
		if seen {
			continue
		}

		failure := diagnostics.Failure{
			Err:           raw[op.LocalID].Err,
			OperationID:   op.LocalID,
			OperationType: op.Type,
			EntityType:    op.EntityType,
			EntityID:      op.EntityID,
			RetryCount:    op.RetryCount,
			MaxRetries:    op.MaxRetries,
			Variables:     op.Variables,
		}
		local := op.LocalID
		e.deps.Dispatch(func() {
			ref, err := e.deps.Reporter.Report(ctx, failure)
			if err != nil {
				e.logger.Warn("failure report not delivered", "op_id", local, "error", err)
				return
			}
			e.metrics.reported(ctx)
			e.refMu.Lock()
			if e.reported[local] {
				e.refs[local] = ref
			}
			e.refMu.Unlock()
			// The operation may already have been collected; the synchronizer
			// then delivers the reference by durable id.
			e.sync.AttachRef(local, ref)
			e.Tick(ctx)
		})
	}
}

func (e *Engine) exceptionRef(local string) (string, bool) {
	e.refMu.Lock()
	defer e.refMu.Unlock()
	ref, ok := e.refs[local]
	return ref, ok
}

// forgetUntracked releases per-operation state once the runtime has dropped
// a settled mutation.
func (e *Engine) forgetUntracked(ops []operation.Operation) {
	current := make(map[string]bool, len(ops))
	for _, op := range ops {
		current[op.LocalID] = true
		e.tracked[op.LocalID] = true
	}
	for local := range e.tracked {
		if current[local] || !e.sync.Forget(local) {
			continue
		}
		delete(e.tracked, local)
		e.refMu.Lock()
		delete(e.reported, local)
		delete(e.refs, local)
		e.refMu.Unlock()
	}
}

// CollectGarbage asks the runtime to drop settled mutations past their
// retention and re-evaluates so their per-operation state is released. It
// returns how many mutations went.
func (e *Engine) CollectGarbage(ctx context.Context) int {
	p, ok := e.deps.Runtime.(Pruner)
	if !ok {
		return 0
	}
	removed := p.Prune()
	if removed > 0 {
		e.logger.Debug("settled mutations collected", "count", removed)
		e.Tick(ctx)
	}
	return removed
}

func (e *Engine) publish(ops []operation.Operation, pending int, now time.Time) {
	next := State{
		PendingCount:         pending,
		HasPendingOperations: pending > 0,
		ActivityLog:          e.feed.Entries(ops, now),
		HasNextPage:          e.feed.HasNextPage(),
		IsFetchingNextPage:   e.feed.IsFetchingNextPage(),
		IsLoadingActivity:    e.feed.IsLoadingInitial(),
		ProgressValue:        math.Round(e.progress.Value(now)*10) / 10,
		IsVisible:            e.progress.Visible(now),
	}

	e.stateMu.Lock()
	next.DrawerOpen = e.drawerOpen
	if reflect.DeepEqual(next, e.state) {
		e.stateMu.Unlock()
		return
	}
	e.state = next
	subs := make([]func(State), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.stateMu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

// State returns the last published state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Subscribe registers fn to receive every state that differs from the last.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.stateMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	e.stateMu.Unlock()

	return func() {
		e.stateMu.Lock()
		delete(e.subscribers, id)
		e.stateMu.Unlock()
	}
}

// FetchNextPage loads the next history page.
func (e *Engine) FetchNextPage(ctx context.Context) error {
	err := e.feed.FetchNextPage(ctx)
	e.Tick(ctx)
	return err
}

// OpenDrawer shows the activity log and refreshes its history.
func (e *Engine) OpenDrawer() { e.setDrawer(func(bool) bool { return true }) }

// CloseDrawer hides the activity log.
func (e *Engine) CloseDrawer() { e.setDrawer(func(bool) bool { return false }) }

// ToggleDrawer flips the activity log visibility.
func (e *Engine) ToggleDrawer() { e.setDrawer(func(open bool) bool { return !open }) }

func (e *Engine) setDrawer(next func(bool) bool) {
	e.stateMu.Lock()
	e.drawerOpen = next(e.drawerOpen)
	open := e.drawerOpen
	e.stateMu.Unlock()

	if open {
		e.feedStale.Store(true)
	}
	e.Tick(e.baseContext())
}

// PersistenceState exposes the synchronizer state of a local operation id.
func (e *Engine) PersistenceState(local string) persist.PersistenceState {
	return e.sync.State(local)
}
