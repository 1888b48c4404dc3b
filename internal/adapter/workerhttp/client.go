// Package workerhttp is the outbound HTTP client for worker endpoints.
package workerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/switchboard-hq/switchboard/internal/domain"
	"github.com/switchboard-hq/switchboard/internal/port/worker"
	"github.com/switchboard-hq/switchboard/internal/resilience"
)

// Client implements worker.Endpoint over plain HTTP. Every failure mode
// (transport error, non-2xx, breaker open) comes back wrapped in
// domain.ErrDispatch so callers degrade instead of aborting.
type Client struct {
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a worker endpoint client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Execute POSTs the prompt payload to {endpoint}/tasks/execute.
func (c *Client) Execute(ctx context.Context, endpoint, credential string, req worker.ExecuteRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal execute request: %w", err)
	}

	url := fmt.Sprintf("%s/tasks/execute", endpoint)
	if _, err := c.doRequest(ctx, url, credential, body); err != nil {
		return fmt.Errorf("execute task %d on %s: %w", req.TaskID, endpoint, err)
	}
	return nil
}

// Kill POSTs to {endpoint}/tasks/{id}/kill and returns the worker's
// response body.
func (c *Client) Kill(ctx context.Context, endpoint, credential string, taskID int64) (string, error) {
	url := fmt.Sprintf("%s/tasks/%d/kill", endpoint, taskID)
	data, err := c.doRequest(ctx, url, credential, nil)
	if err != nil {
		return "", fmt.Errorf("kill task %d on %s: %w", taskID, endpoint, err)
	}
	return string(data), nil
}

func (c *Client) doRequest(ctx context.Context, url, credential string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if credential != "" {
			req.Header.Set("Authorization", "Bearer "+credential)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("worker returned %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	run := call
	if c.breaker != nil {
		run = func() error { return c.breaker.Call(call) }
	}
	if err := run(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDispatch, err)
	}
	return result, nil
}
