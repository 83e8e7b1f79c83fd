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

package quest

import "fmt"

// UnknownWorkerError is raised by the worker directory when a step
// names a worker that has no registered endpoint. Non-retryable.
type UnknownWorkerError struct {
	WorkerName string
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("unknown worker: %s", e.WorkerName)
}

func (e *UnknownWorkerError) ErrorType() string { return "unknown_worker" }
func (e *UnknownWorkerError) IsRetryable() bool  { return false }

// TransportError wraps connection failures, socket errors, and
// timeouts talking to a worker endpoint. Retryable.
type TransportError struct {
	Endpoint string
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Endpoint, e.Cause)
}

func (e *TransportError) Unwrap() error     { return e.Cause }
func (e *TransportError) ErrorType() string { return "transport_error" }
func (e *TransportError) IsRetryable() bool { return true }

// ProtocolError means the HTTP response body was not a well-formed
// JSON-RPC 2.0 envelope. Retryable.
type ProtocolError struct {
	Endpoint string
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed JSON-RPC response from %s: %s", e.Endpoint, e.Reason)
}

func (e *ProtocolError) ErrorType() string { return "protocol_error" }
func (e *ProtocolError) IsRetryable() bool  { return true }

// ToolError is a worker-reported JSON-RPC error object. Retryable
// unless Code is in the caller's non-retryable set; toolclient's
// DefaultConfig has an empty set, so every code is retried by default.
type ToolError struct {
	Code      int
	Message   string
	Retryable bool
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}

func (e *ToolError) ErrorType() string { return "tool_error" }
func (e *ToolError) IsRetryable() bool  { return e.Retryable }

// StoreError signals a persistence failure. It is fatal to the
// current execute call: there is no safe way to continue without
// durability, so it propagates past the executor loop untouched.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error     { return e.Cause }
func (e *StoreError) ErrorType() string { return "store_error" }
func (e *StoreError) IsRetryable() bool  { return false }

// InvalidStateError signals a caller-visible programming error, such
// as resuming a quest that isn't paused, or replaying from a worker
// that never appeared in the plan. It surfaces before any state
// change is made.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: %s", e.Reason)
}

func (e *InvalidStateError) ErrorType() string { return "invalid_state" }
func (e *InvalidStateError) IsRetryable() bool  { return false }

// UnknownReplayPointError is raised by replay when from_worker never
// appears in the original plan.
type UnknownReplayPointError struct {
	WorkerName string
}

func (e *UnknownReplayPointError) Error() string {
	return fmt.Sprintf("replay point not found: worker %q never appears in the original plan", e.WorkerName)
}

func (e *UnknownReplayPointError) ErrorType() string { return "unknown_replay_point" }
func (e *UnknownReplayPointError) IsRetryable() bool  { return false }

// retryable reports whether err should trigger another attempt of the
// step's retry loop (§4.C). A nil error classifier (plain errors from
// panics propagated as errors, for instance) is treated as
// non-retryable since its class is unknown.
func retryable(err error) bool {
	type classifier interface {
		IsRetryable() bool
	}
	if c, ok := err.(classifier); ok {
		return c.IsRetryable()
	}
	return false
}
