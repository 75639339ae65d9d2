package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rpggio/optrack/internal/domain/activity"
)

// ErrRateLimited is returned when the server rejects a call with 429.
var ErrRateLimited = errors.New("rate limited")

// Client calls the activity log service over JSON-RPC. It satisfies the
// engine's activity log and feed source interfaces.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Int64
}

// NewClient creates a client for the server at baseURL. An empty token sends
// no Authorization header.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/rpc",
		token:    token,
		http:     httpClient,
	}
}

// CreateActivityLog creates a pending record.
func (c *Client) CreateActivityLog(ctx context.Context, req activity.CreateRequest) (*activity.Record, error) {
	var rec activity.Record
	if err := c.call(ctx, MethodCreateActivityLog, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateActivityLog applies a partial update to record id.
func (c *Client) UpdateActivityLog(ctx context.Context, id string, req activity.UpdateRequest) (*activity.Record, error) {
	var rec activity.Record
	if err := c.call(ctx, MethodUpdateActivityLog, UpdateParams{ID: id, UpdateRequest: req}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetActivityLog fetches one record.
func (c *Client) GetActivityLog(ctx context.Context, id string) (*activity.Record, error) {
	var rec activity.Record
	if err := c.call(ctx, MethodGetActivityLog, GetParams{ID: id}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetActivityLogs fetches one page of history.
func (c *Client) GetActivityLogs(ctx context.Context, opts activity.ListOptions) (activity.Page, error) {
	var page activity.Page
	if err := c.call(ctx, MethodGetActivityLogs, opts, &page); err != nil {
		return activity.Page{}, err
	}
	return page, nil
}

// CleanupActivityLogs deletes completed records older than the given age.
func (c *Client) CleanupActivityLogs(ctx context.Context, olderThanDays int) (int64, error) {
	var res CleanupResult
	if err := c.call(ctx, MethodCleanupActivityLogs, CleanupParams{OlderThanDays: olderThanDays}, &res); err != nil {
		return 0, err
	}
	return res.Deleted, nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}
	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  rawParams,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return fmt.Errorf("calling %s: %w", method, ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("calling %s: %w", method, ErrRateLimited)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("calling %s: %d %s: %s", method, resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(msg)))
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("calling %s: %w", method, rpcResp.Error)
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}
