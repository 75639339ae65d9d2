package diagnostics_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rpggio/optrack/internal/diagnostics"
	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/rpggio/optrack/internal/repository/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func failure() diagnostics.Failure {
	return diagnostics.Failure{
		Err:           errors.New("504 Gateway Timeout"),
		OperationID:   "1700000000000",
		OperationType: operation.TypeUpdate,
		EntityType:    operation.EntitySubtask,
		EntityID:      "sub-1",
		RetryCount:    3,
		MaxRetries:    3,
		Variables: map[string]any{
			"title":        "Draft",
			"authToken":    "abc",
			"userPassword": "hunter2",
		},
	}
}

func TestReporter_BuildsEvent(t *testing.T) {
	sink := &mocks.Sink{}
	sink.On("Capture", mock.Anything, mock.MatchedBy(func(e diagnostics.Event) bool {
		vars := e.Extra["variables"].(map[string]any)
		return e.Message == "504 Gateway Timeout" &&
			assert.ObjectsAreEqual([]string{"mutation-failure", "update", "subtask", "504 Gateway Timeout"}, e.Fingerprint) &&
			e.Tags["error_category"] == "timeout" &&
			vars["title"] == "Draft" &&
			vars["authToken"] == "[REDACTED]" &&
			vars["userPassword"] == "[REDACTED]"
	})).Return("ref-1", nil)

	ref, err := diagnostics.NewReporter(sink, nil).Report(context.Background(), failure())
	require.NoError(t, err)
	assert.Equal(t, "ref-1", ref)
	sink.AssertExpectations(t)
}

func TestReporter_SinkErrors(t *testing.T) {
	sink := &mocks.Sink{}
	sink.On("Capture", mock.Anything, mock.Anything).Return("", errors.New("sink offline")).Once()
	sink.On("Capture", mock.Anything, mock.Anything).Return("", nil).Once()

	reporter := diagnostics.NewReporter(sink, nil)
	_, err := reporter.Report(context.Background(), failure())
	require.ErrorContains(t, err, "sink offline")

	_, err = reporter.Report(context.Background(), failure())
	require.ErrorIs(t, err, diagnostics.ErrNoReference)
}

func TestSanitize(t *testing.T) {
	type credentials struct {
		Username string `json:"username"`
		Secret   string `json:"clientSecret"`
	}
	input := map[string]any{
		"notes": strings.Repeat("x", 250),
		"nested": map[string]any{
			"AUTHORIZATION": "Bearer abc",
			"items":         []any{credentials{Username: "ann", Secret: "s3"}},
		},
	}

	out := diagnostics.Sanitize(input).(map[string]any)
	notes := out["notes"].(string)
	assert.Equal(t, diagnostics.MaxStringLength+3, len(notes))
	assert.True(t, strings.HasSuffix(notes, "..."))

	nested := out["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["AUTHORIZATION"])
	item := nested["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "ann", item["username"])
	assert.Equal(t, "[REDACTED]", item["clientSecret"])

	assert.Nil(t, diagnostics.Sanitize(nil))
	assert.Nil(t, diagnostics.Sanitize(make(chan int)))
	assert.Equal(t, "short", diagnostics.Sanitize("short"))
}

func TestTraceSink(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	reporter := diagnostics.NewReporter(diagnostics.NewTraceSink(provider.Tracer("test")), nil)
	ref, err := reporter.Report(context.Background(), failure())
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "mutation.failure", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, span.SpanContext().TraceID().String(), ref)
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "exception", span.Events()[0].Name)
}

func TestTraceSink_NoopTracer(t *testing.T) {
	sink := diagnostics.NewTraceSink(noop.NewTracerProvider().Tracer("test"))
	_, err := sink.Capture(context.Background(), diagnostics.Event{Message: "x"})
	require.ErrorIs(t, err, diagnostics.ErrNoReference)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := diagnostics.NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	ref, err := sink.Capture(context.Background(), diagnostics.Event{Message: "boom", Fingerprint: []string{"mutation-failure"}})
	require.NoError(t, err)
	require.NotEmpty(t, ref)
	assert.Contains(t, buf.String(), "ref="+ref)
	assert.Contains(t, buf.String(), "error=boom")
}
