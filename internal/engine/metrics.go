package engine

import (
	"context"
	"log/slog"

	"github.com/rpggio/optrack/internal/persist"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type engineMetrics struct {
	pendingOps      metric.Int64Gauge
	persistFailures metric.Int64Counter
	reports         metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter, logger *slog.Logger) *engineMetrics {
	m := &engineMetrics{}
	var err error
	if m.pendingOps, err = meter.Int64Gauge("optrack.operations.pending",
		metric.WithDescription("Tracked operations still pending")); err != nil {
		logger.Warn("creating pending gauge", "error", err)
	}
	if m.persistFailures, err = meter.Int64Counter("optrack.persistence.failures",
		metric.WithDescription("Failed activity log persistence calls")); err != nil {
		logger.Warn("creating persistence failure counter", "error", err)
	}
	if m.reports, err = meter.Int64Counter("optrack.diagnostics.reports",
		metric.WithDescription("Failures delivered to diagnostics")); err != nil {
		logger.Warn("creating report counter", "error", err)
	}
	return m
}

func (m *engineMetrics) pending(ctx context.Context, n int) {
	if m.pendingOps != nil {
		m.pendingOps.Record(ctx, int64(n))
	}
}

func (m *engineMetrics) persistFailure(ctx context.Context, stage persist.Stage) {
	if m.persistFailures != nil {
		m.persistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
	}
}

func (m *engineMetrics) reported(ctx context.Context) {
	if m.reports != nil {
		m.reports.Add(ctx, 1)
	}
}
