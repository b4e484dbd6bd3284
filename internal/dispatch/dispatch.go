// Package dispatch is the HTTP client the single-remote (§4.5.2) and
// split-distributed (§4.5.3) execution paths both use to hand a task
// or task shard to a remote node and collect its result.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client posts task execution requests to remote nodes over HTTP.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a Client. The http.Client carries no default timeout;
// every call supplies its own deadline through ctx, since the
// deadline varies per task (max execution time plus a fixed pad).
func New(logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Request is the body posted to a remote node's /execute_task endpoint,
// exactly the fields §4.5.2/§6 specify.
type Request struct {
	TaskID           string          `json:"task_id"`
	TaskType         string          `json:"task_type"`
	InputData        json.RawMessage `json:"input_data"`
	DockerImage      string          `json:"docker_image"`
	MaxExecutionTime int             `json:"max_execution_time"`
}

// Response is the body a remote node replies with, per §6.
type Response struct {
	Status  string          `json:"status"`
	Results json.RawMessage `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StatusCompleted is the only Response.Status value that counts as success.
const StatusCompleted = "Completed"

// Execute posts req to the remote node at host:port and returns its
// parsed response. ctx carries the caller's deadline (§4.5.2: max
// execution time plus a fixed pad, per Open Question OQ1's resolution
// that there is no separate fetch round-trip — the response body IS
// the result).
func (c *Client) Execute(ctx context.Context, host string, port int, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispatch request for task %s: %w", req.TaskID, err)
	}

	url := fmt.Sprintf("http://%s:%d/execute_task", host, port)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build dispatch request for task %s: %w", req.TaskID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dispatch request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote dispatch round trip complete",
		zap.String("task_id", req.TaskID),
		zap.String("url", url),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote node %s returned status %d for task %s", url, resp.StatusCode, req.TaskID)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode dispatch response for task %s: %w", req.TaskID, err)
	}
	return &out, nil
}
