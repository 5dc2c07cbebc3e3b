// Package rpcclient provides a small JSON-RPC 2.0 client for BlockMed
// devnet nodes. Ledger traffic goes through go-ethereum's ethclient; this
// client covers the node's own methods.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/blockmed/blockmed/internal/devchain"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the URL the client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      string        `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the JSON-RPC error code.
func (e *RPCError) ErrorCode() int { return e.Code }

// ErrorData returns the error data, if any.
func (e *RPCError) ErrorData() interface{} { return e.Data }

// Call invokes a JSON-RPC method with positional params and unmarshals the
// result into the provided pointer. If result is nil, the response result
// is discarded.
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("http status %d", resp.StatusCode)
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if rpcResp.ID != req.ID {
		return fmt.Errorf("response id %q does not match request id %q", rpcResp.ID, req.ID)
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Status returns the devnet head summary.
func (c *Client) Status(ctx context.Context) (*devchain.Status, error) {
	var st devchain.Status
	if err := c.Call(ctx, &st, "blockmed_status"); err != nil {
		return nil, err
	}
	return &st, nil
}

// ClientVersion returns the node's client version string.
func (c *Client) ClientVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.Call(ctx, &v, "web3_clientVersion"); err != nil {
		return "", err
	}
	return v, nil
}
