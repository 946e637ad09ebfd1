// Package submit delivers form records to the backend. Records are first
// written to the local store, then posted; records the backend has not
// acknowledged stay pending and are retried by Sync.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scanwedge/internal/logging"
)

// RequestIDHeader carries the per-request id to the backend.
const RequestIDHeader = "X-Request-ID"

const maxResponseBytes = 1 << 20

var (
	// ErrRejected is returned when the backend answered with success false.
	ErrRejected = errors.New("rejected by backend")

	// ErrAlreadyRecorded is returned when the backend already holds the
	// record. Callers treat the record as delivered.
	ErrAlreadyRecorded = errors.New("already recorded")
)

// Response is the backend's answer.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      int64  `json:"id,omitempty"`
}

type requestBody struct {
	Fields   map[string]any `json:"fields"`
	ClientID string         `json:"client_id,omitempty"`
}

// Client posts records to one backend.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Post sends fields to endpoint. A 5xx answer is a plain error whatever its
// body says, so the record stays pending. Otherwise a response with success
// false yields the response together with an error wrapping ErrRejected, or
// ErrAlreadyRecorded when the backend answered 409.
func (c *Client) Post(ctx context.Context, endpoint, clientID string, fields map[string]any) (*Response, error) {
	if c.baseURL == "" {
		return nil, errors.New("backend url not configured")
	}
	body, err := json.Marshal(requestBody{Fields: fields, ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	reqID := logging.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = logging.NewRequestID()
	}
	req.Header.Set(RequestIDHeader, reqID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return &out, fmt.Errorf("backend returned %d: %s", resp.StatusCode, out.Message)
	case resp.StatusCode == http.StatusConflict:
		return &out, fmt.Errorf("%w: %s", ErrAlreadyRecorded, out.Message)
	case !out.Success:
		return &out, fmt.Errorf("%w: %s", ErrRejected, out.Message)
	case resp.StatusCode >= 300:
		return &out, fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return &out, nil
}
