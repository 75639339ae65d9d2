package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceSink records failures as OpenTelemetry spans. The reference is the
// span's trace id, so the failure can be found in the tracing backend.
type TraceSink struct {
	tracer trace.Tracer
}

// NewTraceSink creates a sink using tracer.
func NewTraceSink(tracer trace.Tracer) *TraceSink {
	return &TraceSink{tracer: tracer}
}

// Capture implements Sink.
func (s *TraceSink) Capture(ctx context.Context, event Event) (string, error) {
	_, span := s.tracer.Start(ctx, "mutation.failure", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.StringSlice("fingerprint", event.Fingerprint),
	}
	for k, v := range event.Tags {
		attrs = append(attrs, attribute.String("tag."+k, v))
	}
	if extra, err := json.Marshal(event.Extra); err == nil {
		attrs = append(attrs, attribute.String("extra", string(extra)))
	}

	span.SetAttributes(attrs...)
	span.RecordError(errors.New(event.Message))
	span.SetStatus(codes.Error, event.Message)

	sc := span.SpanContext()
	if !sc.TraceID().IsValid() {
		return "", ErrNoReference
	}
	return sc.TraceID().String(), nil
}

// LogSink writes failures to a structured logger under a fresh reference.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Capture implements Sink.
func (s *LogSink) Capture(ctx context.Context, event Event) (string, error) {
	ref := uuid.NewString()
	s.logger.ErrorContext(ctx, "mutation failure",
		"ref", ref,
		"error", event.Message,
		"fingerprint", event.Fingerprint,
		"tags", event.Tags,
		"extra", event.Extra,
	)
	return ref, nil
}
