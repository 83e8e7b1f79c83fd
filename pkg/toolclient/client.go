// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package toolclient issues JSON-RPC 2.0 "tools/call" requests to
// remote Lord workers and resolves worker names to endpoints.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	qlog "github.com/tombee/questd/internal/log"
	"github.com/tombee/questd/pkg/httpclient"
	"github.com/tombee/questd/pkg/quest"
)

// request is the fixed JSON-RPC 2.0 envelope for tools/call (§4.A,
// §6).
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  reqParams   `json:"params"`
	ID      int         `json:"id"`
}

type reqParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// response is the JSON-RPC 2.0 envelope a worker returns. Result and
// Error are both json.RawMessage/typed-nil aware: a null or absent
// "error" field must be treated as success, never conflated with an
// absent field.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Config configures a Client.
type Config struct {
	// Timeout is the per-request HTTP timeout. Default: 30s.
	Timeout time.Duration

	// NonRetryableCodes lists JSON-RPC error codes that must not be
	// retried even though ToolError is retryable by default.
	NonRetryableCodes map[int]bool
}

// DefaultConfig returns the spec's default: 30s timeout, no
// non-retryable tool codes carved out.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		NonRetryableCodes: map[int]bool{},
	}
}

// Client issues tools/call requests over HTTP POST.
//
// Transport-level retry in the underlying http.Client is intentionally
// disabled (httpclient.Config.RetryAttempts = 0): the quest engine's
// own per-step retry policy (§4.C) owns attempt counting, and an
// invisible transport retry would double-count attempts against
// retry.max_tries.
type Client struct {
	http       *http.Client
	cfg        Config
	middleware *qlog.RPCMiddleware
}

// New builds a Client. userAgent identifies the caller in request
// logs (see pkg/httpclient's logging transport). logger receives one
// rpc_request/rpc_response pair per tools/call exchange via
// internal/log's RPCMiddleware; a nil logger falls back to
// slog.Default().
func New(cfg Config, userAgent string, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.NonRetryableCodes == nil {
		cfg.NonRetryableCodes = map[int]bool{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.RetryAttempts = 0
	if userAgent != "" {
		httpCfg.UserAgent = userAgent
	}

	hc, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("building tool client transport: %w", err)
	}

	return &Client{http: hc, cfg: cfg, middleware: qlog.NewRPCMiddleware(logger)}, nil
}

// Call issues one "tools/call" request to endpoint and returns the
// worker's result verbatim. It does not retry; callers needing the
// retry policy should drive Call through quest.runRetryLoop via the
// executor. Each exchange is logged once as a request/response pair
// through internal/log's RPCMiddleware.
func (c *Client) Call(ctx context.Context, endpoint, toolName string, arguments json.RawMessage) (json.RawMessage, error) {
	req := &qlog.RPCRequest{
		MessageType: "tools/call",
		RemoteAddr:  endpoint,
		Metadata:    map[string]interface{}{"tool": toolName},
	}

	var result json.RawMessage
	err := c.middleware.Handler(req, func() error {
		var callErr error
		result, callErr = c.call(ctx, endpoint, toolName, arguments)
		return callErr
	})
	return result, err
}

// call performs the actual HTTP round trip and JSON-RPC envelope
// handling for Call, unwrapped from the logging middleware.
func (c *Client) call(ctx context.Context, endpoint, toolName string, arguments json.RawMessage) (json.RawMessage, error) {
	if arguments == nil {
		arguments = json.RawMessage("{}")
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  "tools/call",
		Params:  reqParams{Name: toolName, Arguments: arguments},
		ID:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling tools/call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &quest.TransportError{Endpoint: endpoint, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &quest.TransportError{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &quest.TransportError{Endpoint: endpoint, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &quest.TransportError{
			Endpoint: endpoint,
			Cause:    fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var rpcResp response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, &quest.ProtocolError{Endpoint: endpoint, Reason: err.Error()}
	}

	if rpcResp.Error != nil {
		return nil, &quest.ToolError{
			Code:      rpcResp.Error.Code,
			Message:   rpcResp.Error.Message,
			Retryable: !c.cfg.NonRetryableCodes[rpcResp.Error.Code],
		}
	}

	return rpcResp.Result, nil
}
