package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rpggio/optrack/internal/diagnostics"
	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/rpggio/optrack/internal/engine"
	"github.com/rpggio/optrack/internal/mutation"
	"github.com/rpggio/optrack/internal/persist"
	"github.com/rpggio/optrack/internal/projector"
	"github.com/rpggio/optrack/internal/repository/mocks"
	"github.com/rpggio/optrack/internal/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const userID = "user1"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingLog wraps the activity service and counts persistence calls.
type countingLog struct {
	*activity.UserClient

	mu         sync.Mutex
	creates    int
	updates    int
	refUpdates int
	createErr  error
}

func (l *countingLog) CreateActivityLog(ctx context.Context, req activity.CreateRequest) (*activity.Record, error) {
	l.mu.Lock()
	err := l.createErr
	if err == nil {
		l.creates++
	}
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.UserClient.CreateActivityLog(ctx, req)
}

func (l *countingLog) UpdateActivityLog(ctx context.Context, id string, req activity.UpdateRequest) (*activity.Record, error) {
	l.mu.Lock()
	l.updates++
	if req.ExceptionRef != nil {
		l.refUpdates++
	}
	l.mu.Unlock()
	return l.UserClient.UpdateActivityLog(ctx, id, req)
}

func (l *countingLog) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creates, l.updates, l.refUpdates
}

type harness struct {
	engine *engine.Engine
	cache  *mutation.Cache
	log    *countingLog
	svc    *activity.Service
	clock  *clock
}

func newHarness(t *testing.T, reporter engine.Reporter, deps func(*engine.Deps)) *harness {
	t.Helper()
	return newHarnessWithConfig(t, engine.DefaultConfig(), reporter, deps)
}

func newHarnessWithConfig(t *testing.T, cfg engine.Config, reporter engine.Reporter, deps func(*engine.Deps)) *harness {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { _ = db.Close() })

	svc := activity.NewService(sqlite.NewActivityRepository(db), nil)
	client := &countingLog{UserClient: activity.NewUserClient(svc, userID)}
	clk := &clock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	cache := mutation.NewCache(mutation.CacheOptions{
		Clock:      clk.Now,
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})

	d := engine.Deps{
		Runtime:     cache,
		ActivityLog: client,
		Feed:        client,
		Reporter:    reporter,
		Clock:       clk.Now,
		Dispatch:    func(fn func()) { fn() },
	}
	if deps != nil {
		deps(&d)
	}

	return &harness{
		engine: engine.New(cfg, d),
		cache:  cache,
		log:    client,
		svc:    svc,
		clock:  clk,
	}
}

func (h *harness) records(t *testing.T) []activity.Record {
	t.Helper()
	page, err := h.svc.List(context.Background(), userID, activity.ListOptions{Limit: activity.MaxPageSize})
	require.NoError(t, err)
	return page.Items
}

func todoMeta(op operation.OperationType) *mutation.Meta {
	return &mutation.Meta{OperationType: op, EntityType: operation.EntityTodo, EntityName: projector.TodoName}
}

func TestEngine_CreateTodoSucceeds(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	handle := h.cache.Submit(mutation.Key{"todos", "create"}, map[string]any{"title": "Buy milk"}, todoMeta(operation.TypeCreate), mutation.RetryPolicy{})
	h.engine.Tick(ctx)

	state := h.engine.State()
	assert.Equal(t, 1, state.PendingCount)
	assert.True(t, state.HasPendingOperations)
	assert.True(t, state.IsVisible)
	assert.Equal(t, 15.0, state.ProgressValue)
	require.Len(t, state.ActivityLog, 1)
	assert.True(t, state.ActivityLog[0].IsLive)
	assert.Equal(t, "Buy milk", state.ActivityLog[0].EntityName)

	h.clock.Advance(time.Second)
	require.NoError(t, handle.Succeed(map[string]any{"id": "X"}))
	for i := 0; i < 3; i++ {
		h.engine.Tick(ctx)
	}

	records := h.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, operation.StatusSuccess, records[0].Status)
	require.NotNil(t, records[0].EntityID)
	assert.Equal(t, "X", *records[0].EntityID)
	require.NotNil(t, records[0].CompletedAt)

	creates, updates, _ := h.log.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)

	state = h.engine.State()
	assert.Equal(t, 0, state.PendingCount)
	assert.Equal(t, 100.0, state.ProgressValue)
	require.Len(t, state.ActivityLog, 1)
	assert.False(t, state.ActivityLog[0].IsLive)
	assert.Equal(t, records[0].ID, state.ActivityLog[0].ID)
}

func TestEngine_UpdateSubtaskExhaustsRetries(t *testing.T) {
	sink := &mocks.Sink{}
	sink.On("Capture", mock.Anything, mock.Anything).Return("ref-1", nil).Once()
	h := newHarness(t, diagnostics.NewReporter(sink, nil), nil)
	ctx := context.Background()

	updatedAt := h.clock.Now().Add(-time.Hour)
	meta := &mutation.Meta{
		OperationType: operation.TypeUpdate,
		EntityType:    operation.EntitySubtask,
		EntityName:    projector.SubtaskName,
	}
	vars := map[string]any{"id": "sub-1", "title": "Draft outline", "updatedAt": updatedAt, "authToken": "x"}
	handle := h.cache.Submit(mutation.Key{"subtasks", "update"}, vars, meta, mutation.RetryPolicy{Max: 3})
	h.engine.Tick(ctx)

	for i := 0; i < 3; i++ {
		require.True(t, handle.Fail(errors.New("503 Service Unavailable")))
		h.engine.Tick(ctx)
	}
	state := h.engine.State()
	require.Len(t, state.ActivityLog, 1)
	assert.True(t, state.ActivityLog[0].IsRetrying)
	assert.Equal(t, 3, state.ActivityLog[0].RetryCount)
	assert.True(t, updatedAt.Equal(state.ActivityLog[0].StartedAt))

	require.False(t, handle.Fail(errors.New("504 Gateway Timeout")))
	for i := 0; i < 5; i++ {
		h.engine.Tick(ctx)
	}

	records := h.records(t)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, operation.StatusError, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, operation.ClassifyError("504 Gateway Timeout"), *rec.ErrorMessage)
	assert.Equal(t, "The request timed out. Please try again.", *rec.ErrorMessage)
	require.NotNil(t, rec.ExceptionRef)
	assert.Equal(t, "ref-1", *rec.ExceptionRef)
	assert.Equal(t, 4, rec.RetryCount)

	_, _, refUpdates := h.log.counts()
	assert.Equal(t, 1, refUpdates)
	sink.AssertNumberOfCalls(t, "Capture", 1)
}

func TestEngine_ConcurrentCreates(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	first := h.cache.Submit(mutation.Key{"todos", "create"}, map[string]any{"title": "First"}, todoMeta(operation.TypeCreate), mutation.RetryPolicy{})
	h.clock.Advance(5 * time.Millisecond)
	second := h.cache.Submit(mutation.Key{"todos", "create"}, map[string]any{"title": "Second"}, todoMeta(operation.TypeCreate), mutation.RetryPolicy{})
	h.engine.Tick(ctx)

	state := h.engine.State()
	require.Len(t, state.ActivityLog, 2)
	assert.NotEqual(t, state.ActivityLog[0].ID, state.ActivityLog[1].ID)
	assert.Equal(t, "Second", state.ActivityLog[0].EntityName)
	assert.Equal(t, "First", state.ActivityLog[1].EntityName)
	assert.Equal(t, 2, state.PendingCount)

	require.NoError(t, first.Succeed(map[string]any{"id": "t1"}))
	require.NoError(t, second.Succeed(map[string]any{"id": "t2"}))
	h.engine.Tick(ctx)

	records := h.records(t)
	require.Len(t, records, 2)
	creates, updates, _ := h.log.counts()
	assert.Equal(t, 2, creates)
	assert.Equal(t, 2, updates)
}

func TestEngine_ConcurrentTicksPersistOnce(t *testing.T) {
	h := newHarness(t, nil, func(d *engine.Deps) { d.Dispatch = nil })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.cache.Submit(mutation.Key{"todos", "create"}, map[string]any{"title": "T"}, todoMeta(operation.TypeCreate), mutation.RetryPolicy{})
		h.clock.Advance(time.Millisecond)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.engine.Tick(ctx)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		creates, _, _ := h.log.counts()
		return creates == 5
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 10; i++ {
		h.engine.Tick(ctx)
	}
	time.Sleep(20 * time.Millisecond)
	creates, _, _ := h.log.counts()
	assert.Equal(t, 5, creates)
	assert.Len(t, h.records(t), 5)
}

func TestEngine_HistoryPaging(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	started := h.clock.Now().Add(-48 * time.Hour)
	for i := 0; i < 21; i++ {
		at := started.Add(time.Duration(i) * time.Minute)
		_, err := h.svc.Create(ctx, userID, activity.CreateRequest{
			OperationType: operation.TypeDelete,
			EntityType:    operation.EntityList,
			EntityName:    "Old list",
			StartedAt:     &at,
		})
		require.NoError(t, err)
	}

	require.NoError(t, h.engine.LoadHistory(ctx))
	state := h.engine.State()
	assert.Len(t, state.ActivityLog, 20)
	assert.True(t, state.HasNextPage)
	assert.False(t, state.IsLoadingActivity)

	require.NoError(t, h.engine.FetchNextPage(ctx))
	state = h.engine.State()
	assert.Len(t, state.ActivityLog, 21)
	assert.False(t, state.HasNextPage)
}

func TestEngine_PublishesOnlyOnChange(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	var published int32
	unsubscribe := h.engine.Subscribe(func(engine.State) { atomic.AddInt32(&published, 1) })
	defer unsubscribe()

	h.cache.Submit(mutation.Key{"todos", "create"}, map[string]any{"title": "A"}, todoMeta(operation.TypeCreate), mutation.RetryPolicy{})
	h.engine.Tick(ctx)
	after := atomic.LoadInt32(&published)
	require.Positive(t, after)

	for i := 0; i < 10; i++ {
		h.engine.Tick(ctx)
	}
	assert.Equal(t, after, atomic.LoadInt32(&published))

	h.engine.ToggleDrawer()
	assert.True(t, h.engine.State().DrawerOpen)
	assert.Equal(t, after+1, atomic.LoadInt32(&published))
	h.engine.CloseDrawer()
	assert.False(t, h.engine.State().DrawerOpen)
	h.engine.OpenDrawer()
	assert.True(t, h.engine.State().DrawerOpen)
}

func TestEngine_IgnoresUntrackedMutations(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.cache.Submit(mutation.Key{"profile", "update"}, nil, todoMeta(operation.TypeUpdate), mutation.RetryPolicy{})
	h.cache.Submit(mutation.Key{"todos", "reorder"}, nil, nil, mutation.RetryPolicy{})
	h.engine.Tick(context.Background())

	assert.Equal(t, 0, h.engine.State().PendingCount)
	creates, _, _ := h.log.counts()
	assert.Equal(t, 0, creates)
}

func TestEngine_PersistenceFailureMetricsAndRetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	h := newHarness(t, nil, func(d *engine.Deps) { d.Meter = provider.Meter("test") })
	ctx := context.Background()
	h.log.mu.Lock()
	h.log.createErr = errors.New("connection refused")
	h.log.mu.Unlock()

	h.cache.Submit(mutation.Key{"lists", "create"}, map[string]any{"name": "Groceries"}, &mutation.Meta{
		OperationType: operation.TypeCreate,
		EntityType:    operation.EntityList,
		EntityName:    projector.ListName,
	}, mutation.RetryPolicy{})
	h.engine.Tick(ctx)

	local := operation.LocalIDFromTime(h.cache.Snapshot()[0].SubmittedAt)
	assert.Equal(t, persist.StateUnseen, h.engine.PersistenceState(local))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(1), sumCounter(rm, "optrack.persistence.failures"))
	assert.Equal(t, int64(1), lastGauge(rm, "optrack.operations.pending"))

	h.log.mu.Lock()
	h.log.createErr = nil
	h.log.mu.Unlock()
	h.engine.Tick(ctx)
	assert.Equal(t, persist.StateCreated, h.engine.PersistenceState(local))
	assert.Len(t, h.records(t), 1)
}

func TestEngine_StartReactsToRuntime(t *testing.T) {
	h := newHarness(t, nil, func(d *engine.Deps) { d.Dispatch = nil; d.Clock = nil })
	h.engine.Start(context.Background())
	t.Cleanup(h.engine.Stop)

	_, err := h.cache.Run(context.Background(), mutation.Key{"ai", "generate"}, map[string]any{"prompt": "plan my week"},
		&mutation.Meta{OperationType: operation.TypeCreate, EntityType: operation.EntityAITodo, EntityName: projector.AITodoName},
		mutation.RetryPolicy{},
		func(context.Context) (any, error) { return map[string]any{"id": "ai-1"}, nil })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		records := h.records(t)
		return len(records) == 1 && records[0].Status == operation.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "plan my week", h.records(t)[0].EntityName)
}

// heldReporter blocks every report until release is closed.
type heldReporter struct {
	release chan struct{}
	calls   atomic.Int32
}

func (r *heldReporter) Report(ctx context.Context, _ diagnostics.Failure) (string, error) {
	r.calls.Add(1)
	select {
	case <-r.release:
		return "ref-late", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestEngine_CollectGarbageKeepsHistory(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	handle := h.cache.Submit(mutation.Key{"todos", "create"}, map[string]any{"title": "Water plants"}, todoMeta(operation.TypeCreate), mutation.RetryPolicy{})
	h.engine.Tick(ctx)
	local := operation.LocalIDFromTime(h.cache.Snapshot()[0].SubmittedAt)
	require.NoError(t, handle.Succeed(map[string]any{"id": "t9"}))
	h.engine.Tick(ctx)
	require.Equal(t, persist.StateSettled, h.engine.PersistenceState(local))

	assert.Zero(t, h.engine.CollectGarbage(ctx))
	require.Len(t, h.cache.Snapshot(), 1)

	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, h.engine.CollectGarbage(ctx))
	assert.Empty(t, h.cache.Snapshot())
	assert.Equal(t, persist.StateUnseen, h.engine.PersistenceState(local))

	state := h.engine.State()
	require.Len(t, state.ActivityLog, 1)
	assert.False(t, state.ActivityLog[0].IsLive)
	assert.Equal(t, "Water plants", state.ActivityLog[0].EntityName)
	assert.Equal(t, operation.StatusSuccess, state.ActivityLog[0].Status)

	for i := 0; i < 3; i++ {
		h.engine.Tick(ctx)
	}
	creates, updates, _ := h.log.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
	assert.Len(t, h.records(t), 1)
}

func TestEngine_LateExceptionRefAfterCollection(t *testing.T) {
	reporter := &heldReporter{release: make(chan struct{})}
	h := newHarness(t, reporter, func(d *engine.Deps) { d.Dispatch = nil })
	ctx := context.Background()

	vars := map[string]any{"id": "t1", "title": "Ship release"}
	handle := h.cache.Submit(mutation.Key{"todos", "update"}, vars, todoMeta(operation.TypeUpdate), mutation.RetryPolicy{Disabled: true})
	h.engine.Tick(ctx)
	local := operation.LocalIDFromTime(h.cache.Snapshot()[0].SubmittedAt)
	require.Eventually(t, func() bool {
		return h.engine.PersistenceState(local) == persist.StateCreated
	}, 2*time.Second, 5*time.Millisecond)

	require.False(t, handle.Fail(errors.New("500 Internal Server Error")))
	h.engine.Tick(ctx)
	require.Eventually(t, func() bool {
		return h.engine.PersistenceState(local) == persist.StateSettled
	}, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(10 * time.Minute)
	require.Equal(t, 1, h.engine.CollectGarbage(ctx))
	require.Eventually(t, func() bool {
		return h.engine.PersistenceState(local) == persist.StateUnseen
	}, 2*time.Second, 5*time.Millisecond)

	records := h.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, operation.StatusError, records[0].Status)
	assert.Nil(t, records[0].ExceptionRef)

	close(reporter.release)
	for i := 0; i < 5; i++ {
		h.engine.Tick(ctx)
	}

	require.Eventually(t, func() bool {
		records := h.records(t)
		return len(records) == 1 && records[0].ExceptionRef != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ref-late", *h.records(t)[0].ExceptionRef)

	for i := 0; i < 5; i++ {
		h.engine.Tick(ctx)
	}
	time.Sleep(20 * time.Millisecond)
	_, _, refUpdates := h.log.counts()
	assert.Equal(t, 1, refUpdates)
	assert.Equal(t, int32(1), reporter.calls.Load())
}

func TestEngine_StartCollectsSettledMutations(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.GCInterval = 10 * time.Millisecond
	h := newHarnessWithConfig(t, cfg, nil, func(d *engine.Deps) { d.Dispatch = nil; d.Clock = nil })
	h.engine.Start(context.Background())
	t.Cleanup(h.engine.Stop)

	_, err := h.cache.Run(context.Background(), mutation.Key{"lists", "delete"}, map[string]any{"id": "l1", "name": "Old"},
		&mutation.Meta{OperationType: operation.TypeDelete, EntityType: operation.EntityList, EntityName: projector.ListName},
		mutation.RetryPolicy{},
		func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		records := h.records(t)
		return len(records) == 1 && records[0].Status == operation.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	h.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool {
		return len(h.cache.Snapshot()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.records(t), 1)
}

func sumCounter(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func lastGauge(rm metricdata.ResourceMetrics, name string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
				return g.DataPoints[len(g.DataPoints)-1].Value
			}
		}
	}
	return -1
}
