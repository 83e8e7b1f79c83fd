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

package commands

import (
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/tombee/questd/pkg/errors"
)

// classifier mirrors pkg/errors.ErrorClassifier's shape. pkg/quest's
// own error types (UnknownWorkerError, TransportError, StoreError, …)
// implement it without importing pkg/errors, to avoid a dependency
// cycle back into the domain package for field access; classifier
// lets CommandError recognize them anyway.
type classifier interface {
	ErrorType() string
	IsRetryable() bool
}

// CommandError wraps a subcommand's failure so it satisfies
// pkg/errors.UserVisibleError and pkg/errors.ErrorClassifier, the way
// the teacher's CLI wraps operation failures for display. Op names
// the failing step (e.g. "executing quest"); Cause is the underlying
// domain error.
type CommandError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CommandError) Unwrap() error { return e.Cause }

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *CommandError) IsUserVisible() bool { return true }

// UserMessage implements pkg/errors.UserVisibleError.
func (e *CommandError) UserMessage() string { return e.Error() }

// Suggestion implements pkg/errors.UserVisibleError, tailored to the
// quest domain's error kinds (§7 of spec.md).
func (e *CommandError) Suggestion() string {
	var c classifier
	if !errors.As(e.Cause, &c) {
		return ""
	}
	switch c.ErrorType() {
	case "unknown_worker":
		return "check worker_endpoints in questd.yaml for a missing or misspelled entry"
	case "transport_error":
		return "confirm the worker endpoint is reachable and retry"
	case "protocol_error":
		return "the worker's response was not valid JSON-RPC; check its tools/call handler"
	case "tool_error":
		return "the worker rejected the call; inspect the error message above"
	case "store_error":
		return "confirm store_path is writable and not locked by another questd process"
	case "invalid_state":
		return "check the quest's current status with `questd list` before retrying"
	case "unknown_replay_point":
		return "pass --from-worker with a name that appears in the original quest's plan"
	default:
		return ""
	}
}

// ErrorType implements pkg/errors.ErrorClassifier by delegating to the
// wrapped cause, falling back to a generic category.
func (e *CommandError) ErrorType() string {
	var c classifier
	if errors.As(e.Cause, &c) {
		return c.ErrorType()
	}
	return "command_error"
}

// IsRetryable implements pkg/errors.ErrorClassifier by delegating to
// the wrapped cause.
func (e *CommandError) IsRetryable() bool {
	var c classifier
	if errors.As(e.Cause, &c) {
		return c.IsRetryable()
	}
	return false
}

var (
	_ pkgerrors.UserVisibleError = (*CommandError)(nil)
	_ pkgerrors.ErrorClassifier  = (*CommandError)(nil)
)

// HandleExitError prints err the way the teacher's CLI reports a
// terminal command failure: the message, then a suggestion line if
// err (or anything it wraps) implements pkg/errors.UserVisibleError,
// then exits 1.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	printSuggestion(err)
	os.Exit(1)
}

// printSuggestion walks err's Unwrap chain looking for a
// pkg/errors.UserVisibleError and prints its suggestion, if any.
func printSuggestion(err error) {
	for err != nil {
		if uv, ok := err.(pkgerrors.UserVisibleError); ok {
			if uv.IsUserVisible() {
				if s := uv.Suggestion(); s != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", s)
				}
			}
			return
		}
		err = errors.Unwrap(err)
	}
}
