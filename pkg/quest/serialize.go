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

import "encoding/json"

// CanonicalStatus maps either spelling of the terminal pairs the
// source system used (success/completed, error/failed) to this
// implementation's canonical spelling. Every other status passes
// through unchanged. Use this on every status value read from an
// external payload (store rows, replay sources, legacy fixtures)
// before it enters executor logic.
func CanonicalStatus(s Status) Status {
	switch s {
	case "success":
		return StatusCompleted
	case "error":
		return StatusFailed
	default:
		return s
	}
}

// stepWire is the JSON shape of a Step, accepting the legacy
// "end_time" alias for "execution_time" on read (§4.F).
type stepWire struct {
	WorkerName string      `json:"worker_name"`
	ToolName   string      `json:"tool_name"`
	OnError    ErrorMode   `json:"on_error"`
	Retry      RetryPolicy `json:"retry"`
	RunIndex   int         `json:"run_index"`

	Status        Status          `json:"status,omitempty"`
	StartTime     int64           `json:"start_time,omitempty"`
	ExecutionTime *float64        `json:"execution_time,omitempty"`
	EndTime       *float64        `json:"end_time,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// UnmarshalJSON implements the execution_time/end_time legacy alias
// and canonicalizes status spelling.
func (s *Step) UnmarshalJSON(b []byte) error {
	var w stepWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s.WorkerName = w.WorkerName
	s.ToolName = w.ToolName
	s.OnError = w.OnError
	s.Retry = NewRetryPolicy(w.Retry.MaxTries, w.Retry.WaitMs)
	s.RunIndex = w.RunIndex
	s.Status = CanonicalStatus(w.Status)
	s.StartTime = w.StartTime
	s.Data = w.Data
	s.Error = w.Error

	switch {
	case w.ExecutionTime != nil:
		s.ExecutionTime = *w.ExecutionTime
	case w.EndTime != nil:
		s.ExecutionTime = *w.EndTime
	}
	return nil
}

// MarshalJSON always writes the canonical "execution_time" key.
func (s Step) MarshalJSON() ([]byte, error) {
	w := stepWire{
		WorkerName:    s.WorkerName,
		ToolName:      s.ToolName,
		OnError:       s.OnError,
		Retry:         s.Retry,
		RunIndex:      s.RunIndex,
		Status:        s.Status,
		StartTime:     s.StartTime,
		ExecutionTime: &s.ExecutionTime,
		Data:          s.Data,
		Error:         s.Error,
	}
	return json.Marshal(w)
}

// runRecordWire mirrors the execution_time/end_time alias for history
// entries read back from the store.
type runRecordWire struct {
	WorkerName    string          `json:"worker_name"`
	ToolName      string          `json:"tool_name"`
	RunIndex      int             `json:"run_index"`
	Status        Status          `json:"status"`
	StartTime     int64           `json:"start_time"`
	ExecutionTime *float64        `json:"execution_time,omitempty"`
	EndTime       *float64        `json:"end_time,omitempty"`
	Input         json.RawMessage `json:"input,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
}

// UnmarshalJSON accepts both "execution_time" and legacy "end_time"
// and canonicalizes status spelling.
func (r *RunRecord) UnmarshalJSON(b []byte) error {
	var w runRecordWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	r.WorkerName = w.WorkerName
	r.ToolName = w.ToolName
	r.RunIndex = w.RunIndex
	r.Status = CanonicalStatus(w.Status)
	r.StartTime = w.StartTime
	r.Input = w.Input
	r.Output = w.Output
	r.Error = w.Error
	r.AttemptCount = w.AttemptCount

	switch {
	case w.ExecutionTime != nil:
		r.ExecutionTime = *w.ExecutionTime
	case w.EndTime != nil:
		r.ExecutionTime = *w.EndTime
	}
	return nil
}

// MarshalJSON always writes the canonical "execution_time" key.
func (r RunRecord) MarshalJSON() ([]byte, error) {
	w := runRecordWire{
		WorkerName:    r.WorkerName,
		ToolName:      r.ToolName,
		RunIndex:      r.RunIndex,
		Status:        r.Status,
		StartTime:     r.StartTime,
		ExecutionTime: &r.ExecutionTime,
		Input:         r.Input,
		Output:        r.Output,
		Error:         r.Error,
		AttemptCount:  r.AttemptCount,
	}
	return json.Marshal(w)
}
