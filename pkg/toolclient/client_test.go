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

package toolclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/questd/pkg/quest"
	"github.com/tombee/questd/pkg/toolclient"
)

func newClient(t *testing.T, cfg toolclient.Config) *toolclient.Client {
	t.Helper()
	c, err := toolclient.New(cfg, "questd-test", nil)
	require.NoError(t, err)
	return c
}

func TestCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req["jsonrpc"])
		assert.Equal(t, "tools/call", req["method"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true},"error":null}`))
	}))
	defer srv.Close()

	c := newClient(t, toolclient.DefaultConfig())
	result, err := c.Call(context.Background(), srv.URL, "design", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestCall_NonTwoHundredIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := newClient(t, toolclient.DefaultConfig())
	_, err := c.Call(context.Background(), srv.URL, "design", nil)
	require.Error(t, err)
	var transportErr *quest.TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.True(t, transportErr.IsRetryable())
}

func TestCall_MalformedJSONIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := newClient(t, toolclient.DefaultConfig())
	_, err := c.Call(context.Background(), srv.URL, "design", nil)
	require.Error(t, err)
	var protoErr *quest.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
	assert.True(t, protoErr.IsRetryable())
}

func TestCall_NullErrorFieldIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"stage":"done"},"error":null}`))
	}))
	defer srv.Close()

	c := newClient(t, toolclient.DefaultConfig())
	result, err := c.Call(context.Background(), srv.URL, "design", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":"done"}`, string(result))
}

func TestCall_PresentErrorFieldIsToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null,"error":{"code":-32000,"message":"tool exploded"}}`))
	}))
	defer srv.Close()

	c := newClient(t, toolclient.DefaultConfig())
	_, err := c.Call(context.Background(), srv.URL, "design", nil)
	require.Error(t, err)
	var toolErr *quest.ToolError
	assert.ErrorAs(t, err, &toolErr)
	assert.Equal(t, -32000, toolErr.Code)
	assert.Equal(t, "tool exploded", toolErr.Message)
	assert.True(t, toolErr.IsRetryable())
}

func TestCall_NonRetryableCodeIsHonored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null,"error":{"code":-32602,"message":"invalid params"}}`))
	}))
	defer srv.Close()

	cfg := toolclient.DefaultConfig()
	cfg.NonRetryableCodes = map[int]bool{-32602: true}
	c := newClient(t, cfg)

	_, err := c.Call(context.Background(), srv.URL, "design", nil)
	require.Error(t, err)
	var toolErr *quest.ToolError
	assert.ErrorAs(t, err, &toolErr)
	assert.False(t, toolErr.IsRetryable())
}

func TestCall_NilArgumentsDefaultToEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		params := req["params"].(map[string]any)
		assert.Equal(t, map[string]any{}, params["arguments"])
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{},"error":null}`))
	}))
	defer srv.Close()

	c := newClient(t, toolclient.DefaultConfig())
	_, err := c.Call(context.Background(), srv.URL, "design", nil)
	require.NoError(t, err)
}
