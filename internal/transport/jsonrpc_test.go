package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	body := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"test","params":{"a":1},"id":1}`)
	req, err := ParseRequest(body)
	require.NoError(t, err)
	require.Equal(t, "2.0", req.JSONRPC)
	require.Equal(t, "test", req.Method)
	require.Equal(t, json.RawMessage(`{"a":1}`), req.Params)
}

func TestParseRequest_Invalid(t *testing.T) {
	body := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1}`)
	_, err := ParseRequest(body)
	require.Error(t, err)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 1, ErrInvalidParams, "bad params", nil)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), `"error"`)
}

func TestWriteResult(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteResult(rec, 7, map[string]int{"deleted": 2})

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.JSONEq(t, `{"deleted":2}`, string(resp.Result))
}

func TestErrorCode(t *testing.T) {
	require.Equal(t, ErrInvalidParams, ErrorCode(fmt.Errorf("wrap: %w", activity.ErrInvalidInput)))
	require.Equal(t, ErrNotFoundCode, ErrorCode(activity.ErrRecordNotFound))
	require.Equal(t, ErrMethodNotFound, ErrorCode(&Error{Code: ErrMethodNotFound}))
	require.Equal(t, ErrInternal, ErrorCode(errors.New("boom")))
}

func TestError_UnwrapsToSentinels(t *testing.T) {
	require.ErrorIs(t, &Error{Code: ErrNotFoundCode}, activity.ErrRecordNotFound)
	require.ErrorIs(t, &Error{Code: ErrInvalidParams}, activity.ErrInvalidInput)
	require.NotErrorIs(t, &Error{Code: ErrInternal}, activity.ErrInvalidInput)
}
