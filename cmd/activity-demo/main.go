// Command activity-demo drives the reconciliation engine through a scripted
// set of optimistic writes and prints the resulting activity log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rpggio/optrack/internal/config"
	"github.com/rpggio/optrack/internal/diagnostics"
	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/rpggio/optrack/internal/engine"
	"github.com/rpggio/optrack/internal/mutation"
	"github.com/rpggio/optrack/internal/persist"
	"github.com/rpggio/optrack/internal/projector"
	"github.com/rpggio/optrack/internal/sqlite"
	"github.com/rpggio/optrack/internal/transport"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type activityBackend interface {
	persist.ActivityLog
	GetActivityLogs(ctx context.Context, opts activity.ListOptions) (activity.Page, error)
}

func main() {
	serverURL := flag.String("server", "", "activity log server URL; empty runs against an in-memory store")
	token := flag.String("token", os.Getenv("OPTRACK_API_KEY"), "bearer token for -server")
	settle := flag.Duration("settle", 2*time.Second, "how long to wait for persistence after the last write")
	gcTime := flag.Duration("gc", time.Second, "how long settled mutations stay live before collection")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))

	ctx := context.Background()

	backend, closeBackend, err := openBackend(*serverURL, *token, cfg.Auth.DefaultUser, logger)
	if err != nil {
		logger.Error("failed to open activity backend", "error", err)
		os.Exit(1)
	}
	defer closeBackend()

	reporter, shutdownTracing := newReporter(cfg.Diagnostics.Sink, logger)
	defer shutdownTracing(ctx)

	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = meterProvider.Shutdown(ctx) }()

	cache := mutation.NewCache(mutation.CacheOptions{
		GCTime:     *gcTime,
		NewBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(150 * time.Millisecond) },
	})
	eng := engine.New(cfg.Engine, engine.Deps{
		Runtime:     cache,
		ActivityLog: backend,
		Feed:        backend,
		Reporter:    reporter,
		Logger:      logger,
		Meter:       meterProvider.Meter("activity-demo"),
	})

	unsubscribe := eng.Subscribe(func(s engine.State) {
		logger.Info("state",
			"pending", s.PendingCount,
			"progress", s.ProgressValue,
			"visible", s.IsVisible,
			"entries", len(s.ActivityLog),
		)
	})
	defer unsubscribe()

	eng.Start(ctx)
	runScript(ctx, cache, logger)

	time.Sleep(*settle)
	collected := eng.CollectGarbage(ctx)
	logger.Info("collected settled mutations", "count", collected, "live", len(cache.Snapshot()))
	eng.Stop()

	printActivity(eng.State())
	printMetrics(ctx, reader)
}

func openBackend(serverURL, token, userID string, logger *slog.Logger) (activityBackend, func(), error) {
	if serverURL != "" {
		return transport.NewClient(serverURL, token, nil), func() {}, nil
	}

	db, err := sqlite.New(":memory:")
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	svc := activity.NewService(sqlite.NewActivityRepository(db), logger)
	return activity.NewUserClient(svc, userID), func() { _ = db.Close() }, nil
}

func newReporter(sink string, logger *slog.Logger) (engine.Reporter, func(context.Context)) {
	if sink == "trace" {
		provider := sdktrace.NewTracerProvider()
		reporter := diagnostics.NewReporter(diagnostics.NewTraceSink(provider.Tracer("activity-demo")), logger)
		return reporter, func(ctx context.Context) { _ = provider.Shutdown(ctx) }
	}
	return diagnostics.NewReporter(diagnostics.NewLogSink(logger), logger), func(context.Context) {}
}

// runScript submits a fixed mix of writes concurrently and waits for them.
func runScript(ctx context.Context, cache *mutation.Cache, logger *slog.Logger) {
	type write struct {
		key    mutation.Key
		vars   map[string]any
		meta   *mutation.Meta
		policy mutation.RetryPolicy
		fn     func(attempt int) (any, error)
	}

	writes := []write{
		{
			key:  mutation.Key{"todos", "create"},
			vars: map[string]any{"title": "Buy milk"},
			meta: &mutation.Meta{OperationType: operation.TypeCreate, EntityType: operation.EntityTodo, EntityName: projector.TodoName},
			fn: func(int) (any, error) {
				time.Sleep(300 * time.Millisecond)
				return map[string]any{"id": "todo-1"}, nil
			},
		},
		{
			key: mutation.Key{"subtasks", "update"},
			vars: map[string]any{
				"id":        "subtask-7",
				"title":     "Draft outline",
				"updatedAt": time.Now().Add(-time.Hour),
				"authToken": "not-for-diagnostics",
			},
			meta:   &mutation.Meta{OperationType: operation.TypeUpdate, EntityType: operation.EntitySubtask, EntityName: projector.SubtaskName},
			policy: mutation.RetryPolicy{Max: 2},
			fn: func(attempt int) (any, error) {
				if attempt < 2 {
					return nil, errors.New("503 Service Unavailable")
				}
				return nil, errors.New("504 Gateway Timeout")
			},
		},
		{
			key:  mutation.Key{"ai", "generate"},
			vars: map[string]any{"prompt": "Plan a three day hiking trip with gear list and meal prep for two people"},
			meta: &mutation.Meta{OperationType: operation.TypeCreate, EntityType: operation.EntityAITodo, EntityName: projector.AITodoName},
			fn: func(int) (any, error) {
				time.Sleep(600 * time.Millisecond)
				return map[string]any{"id": "todo-2"}, nil
			},
		},
		{
			key:  mutation.Key{"lists", "delete"},
			vars: map[string]any{"id": "list-3", "name": "Archive"},
			meta: &mutation.Meta{OperationType: operation.TypeDelete, EntityType: operation.EntityList, EntityName: projector.ListName},
			fn: func(int) (any, error) {
				return map[string]any{"id": "list-3"}, nil
			},
		},
	}

	var wg sync.WaitGroup
	for _, w := range writes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempt := 0
			_, err := cache.Run(ctx, w.key, w.vars, w.meta, w.policy, func(context.Context) (any, error) {
				defer func() { attempt++ }()
				return w.fn(attempt)
			})
			if err != nil {
				logger.Info("write failed", "key", w.key, "error", err)
			}
		}()
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()
}

func printActivity(state engine.State) {
	fmt.Printf("%-36s  %-7s  %-8s  %-7s  %-30s  %s\n", "ID", "OP", "ENTITY", "STATUS", "NAME", "WHEN")
	for _, e := range state.ActivityLog {
		when := e.RelativeTime
		if when == "" {
			when = "in progress"
		}
		fmt.Printf("%-36s  %-7s  %-8s  %-7s  %-30.30s  %s\n", e.ID, e.OperationType, e.EntityType, e.Status, e.EntityName, when)
		if e.ErrorMessage != "" {
			fmt.Printf("    %s (ref %s)\n", e.ErrorMessage, e.ExceptionRef)
		}
	}
}

func printMetrics(ctx context.Context, reader *sdkmetric.ManualReader) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		fmt.Fprintf(os.Stderr, "collect metrics: %v\n", err)
		return
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				fmt.Printf("%s = %d\n", m.Name, total)
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					fmt.Printf("%s = %d\n", m.Name, dp.Value)
				}
			}
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
