package executor

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

	"github.com/manpreetbhatti/coderelay/backend/internal/protocol"
)

const maxResponseSize = 1 << 20

// ErrUnavailable wraps every failure to obtain a result from the executor
var ErrUnavailable = errors.New("execution service unavailable")

type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Client calls the external execution service
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/execute",
		http:     &http.Client{Timeout: timeout},
	}
}

// Execute posts the request and decodes the executor's reply as-is
func (c *Client) Execute(ctx context.Context, req Request) (protocol.ExecutionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.ExecutionResult{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return protocol.ExecutionResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return protocol.ExecutionResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return protocol.ExecutionResult{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result protocol.ExecutionResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&result); err != nil {
		return protocol.ExecutionResult{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return result, nil
}
