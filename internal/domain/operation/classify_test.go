package operation_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		want operation.Category
	}{
		{"TypeError: Failed to fetch", operation.CategoryNetwork},
		{"connection reset by peer", operation.CategoryNetwork},
		{"504 Gateway Timeout", operation.CategoryTimeout},
		{"context deadline exceeded: request timed out", operation.CategoryTimeout},
		{"HTTP 401", operation.CategoryUnauthorized},
		{"Forbidden", operation.CategoryForbidden},
		{"todo not found", operation.CategoryNotFound},
		{"Validation failed: title is required", operation.CategoryValidation},
		{"500 Internal Server Error", operation.CategoryServer},
		{"502 Bad Gateway", operation.CategoryServer},
		{"something odd", operation.CategoryUnknown},
		{"", operation.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, operation.Classify(tt.raw))
		})
	}
}

func TestClassifyError_CaseInsensitive(t *testing.T) {
	require.Equal(t, operation.ClassifyError("network down"), operation.ClassifyError("NETWORK DOWN"))
}

func TestClassifyError_GatewayTimeout(t *testing.T) {
	msg := operation.ClassifyError("504 Gateway Timeout")
	require.Equal(t, "The request timed out. Please try again.", msg)
}

func TestClassifyError_Fallback(t *testing.T) {
	require.Equal(t, "Something went wrong. Please try again.", operation.ClassifyError("weird"))
	require.Equal(t, "Something went wrong. Please try again.", operation.ClassifyErr(nil))
	require.Equal(t, operation.ClassifyError("timeout"), operation.ClassifyErr(errors.New("timeout")))
}

func TestClassifyError_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("total and non-empty", prop.ForAll(
		func(raw string) bool {
			msg := operation.ClassifyError(raw)
			return strings.TrimSpace(msg) != "" && len([]rune(msg)) <= operation.MaxMessageLength
		},
		gen.AnyString(),
	))

	properties.Property("deterministic", prop.ForAll(
		func(raw string) bool {
			return operation.ClassifyError(raw) == operation.ClassifyError(raw)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestIdentity(t *testing.T) {
	local := operation.Local("1700000000000")
	require.True(t, local.IsLocal())
	require.False(t, local.IsDurable())
	require.Equal(t, "1700000000000", local.String())

	durable := operation.Durable("rec-1")
	require.True(t, durable.IsDurable())
	require.False(t, durable.IsZero())
	require.True(t, operation.Identity{}.IsZero())

	data, err := durable.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"rec-1"`, string(data))
}

func TestOperation_IsRetrying(t *testing.T) {
	op := operation.Operation{Status: operation.StatusPending}
	require.False(t, op.IsRetrying())
	op.RetryCount = 1
	require.True(t, op.IsRetrying())
	op.Status = operation.StatusError
	require.False(t, op.IsRetrying())
}
