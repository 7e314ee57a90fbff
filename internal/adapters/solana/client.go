package solana

// client.go: JSON-RPC transport with rate limiting and retries.
//
// The keeper talks to a single RPC node. Transient transport failures
// and 429/5xx responses are retried with exponential backoff; RPC-level
// errors (the node understood us and said no) are returned as rpcError
// without retry, since re-sending a rejected transaction blind is the
// hazard the engine exists to avoid.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRPCTimeout = 15 * time.Second

	// Public RPC nodes allow roughly 100 req/10s; stay well under.
	requestsPerSec = 5
	requestBurst   = 10

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// rpcError is a JSON-RPC error object returned by the node.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcClient is the HTTP transport for one RPC endpoint.
type rpcClient struct {
	http     *http.Client
	endpoint string
	limiter  *rate.Limiter
}

func newRPCClient(endpoint string) *rpcClient {
	return &rpcClient{
		http:     &http.Client{Timeout: defaultRPCTimeout},
		endpoint: endpoint,
		limiter:  rate.NewLimiter(requestsPerSec, requestBurst),
	}
}

// call performs one JSON-RPC method call and decodes result into out.
func (c *rpcClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.post(ctx, body)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("%s failed after %d retries: %w", method, maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("%s: server status %d after %d retries", method, resp.StatusCode, maxRetries)
			}
			slog.Warn("rpc node throttling", "method", method, "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("%s: client error %d: %s", method, resp.StatusCode, string(raw))
		}

		var rpcResp rpcResponse
		err = json.NewDecoder(resp.Body).Decode(&rpcResp)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s: decode response: %w", method, err)
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
	return fmt.Errorf("%s: exhausted %d retries", method, maxRetries)
}

func (c *rpcClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// sleep waits with exponential backoff, respecting the context.
func (c *rpcClient) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
