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

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ToolCaller issues a single JSON-RPC tools/call against a resolved
// endpoint. pkg/toolclient.Client satisfies this structurally; it is
// declared here (rather than imported) so this package never depends
// on the transport package.
type ToolCaller interface {
	Call(ctx context.Context, endpoint, toolName string, arguments json.RawMessage) (json.RawMessage, error)
}

// Directory resolves a worker name to a transport endpoint.
// pkg/toolclient.Directory implementations satisfy this structurally.
type Directory interface {
	Resolve(name string) (endpoint string, err error)
}

// Store is the subset of store.Store the executor needs. Declared
// locally to avoid importing pkg/quest/store (which imports this
// package's types).
type Store interface {
	SaveQuest(ctx context.Context, q *Quest) error
	LoadQuest(ctx context.Context, id string) (*Quest, error)
	RecordStep(ctx context.Context, q *Quest, run RunRecord) error
	SaveSnapshot(ctx context.Context, questID string, history History, plan []Step, reason SnapshotReason) error
	LoadLatestSnapshot(ctx context.Context, questID string) (*Snapshot, error)
}

// Clock abstracts wall-clock reads so tests can control timing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Executor drives a quest's plan to a terminal state (§4.G/§4.H).
//
// One Executor instance owns zero or more in-flight quests; the
// contract is "one owner per quest id at a time" (§5) — the store
// provides no distributed locking, so the surrounding system must
// guarantee single-owner dispatch across processes.
type Executor struct {
	tool      ToolCaller
	directory Directory
	store     Store
	hooks     *HookBus
	logger    *slog.Logger
	clock     Clock
	retryCaps RetryCaps

	mu            sync.Mutex
	pauseRequests map[string]bool
}

// NewExecutor wires the executor's collaborators (components A, B, E,
// D in §2's table). Retry caps default to DefaultRetryCaps(); use
// WithRetryCaps to bind a deployment's configured
// retry.max_tries_cap / retry.wait_ms_cap (§6).
func NewExecutor(tool ToolCaller, directory Directory, st Store, hooks *HookBus, logger *slog.Logger) *Executor {
	if hooks == nil {
		hooks = NewHookBus(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		tool:          tool,
		directory:     directory,
		store:         st,
		hooks:         hooks,
		logger:        logger,
		clock:         realClock{},
		retryCaps:     DefaultRetryCaps(),
		pauseRequests: make(map[string]bool),
	}
}

// WithRetryCaps overrides the executor's retry-clamp ceiling, letting
// a deployment's configured retry.max_tries_cap / retry.wait_ms_cap
// (§6) tighten the clamp every step's retry policy is re-clamped
// against in runStep. Returns e for chaining.
func (e *Executor) WithRetryCaps(caps RetryCaps) *Executor {
	e.retryCaps = caps
	return e
}

// Execute drives q's plan to a terminal state and returns the
// mutated quest. It implements the main loop in §4.G.
func (e *Executor) Execute(ctx context.Context, q *Quest) (*Quest, error) {
	now := e.clock.Now().Unix()
	if q.StartTime == 0 {
		q.StartTime = now
	}
	q.Status = StatusRunning
	if len(q.OriginalPlan) == 0 {
		q.OriginalPlan = cloneSteps(q.Plan)
	}
	e.clearPauseRequest(q.ID)

	if err := e.saveQuest(ctx, q); err != nil {
		return q, err
	}

	e.hooks.Emit(ctx, Hook{Event: HookQuestStarted, QuestID: q.ID, Data: map[string]any{"type": q.Type}})

	for len(q.Plan) > 0 && !e.pauseRequested(q.ID) {
		step := q.Plan[0]
		q.Plan = q.Plan[1:]

		run, stepErr := e.runStep(ctx, q, step)

		switch {
		case stepErr == nil:
			q.LastWorker = step.WorkerName
		case step.OnError == ErrorModeStop:
			q.Error = &QuestError{Worker: step.WorkerName, Tool: step.ToolName, Message: stepErr.Error()}
			q.Status = StatusFailed
			// No further step will ever run on this terminal quest, so
			// the remaining plan is discarded rather than left pending.
			q.Plan = nil
			if err := e.persistStep(ctx, q, run); err != nil {
				return q, err
			}
			q.EndTime = e.clock.Now().Unix()
			e.hooks.Emit(ctx, Hook{Event: HookQuestFinished, QuestID: q.ID, Data: map[string]any{"status": string(q.Status)}})
			return q, nil
		case step.OnError == ErrorModeContinue:
			// Skip: do not advance last_worker, output stays as the
			// last successful step's output.
		case step.OnError == ErrorModeContinueWithInput:
			// step.data = previous_output(quest): the failed step's own
			// output never materialized, so it inherits the previous
			// step's output and becomes last_worker itself — the next
			// step still effectively sees the same data.
			run.Output = e.previousOutput(q)
			q.LastWorker = step.WorkerName
		}

		if err := e.persistStep(ctx, q, run); err != nil {
			return q, err
		}
	}

	if len(q.Plan) > 0 && e.pauseRequested(q.ID) {
		// Pause() owns the persisted status/snapshot transition for a
		// cooperatively-stopped quest; the loop just stops dispatching
		// without claiming completion.
		return q, nil
	}

	if q.Status == StatusRunning {
		q.Status = StatusCompleted
	}
	q.EndTime = e.clock.Now().Unix()
	q.Output = e.previousOutput(q)

	if err := e.saveQuest(ctx, q); err != nil {
		return q, err
	}

	e.hooks.Emit(ctx, Hook{Event: HookQuestFinished, QuestID: q.ID, Data: map[string]any{"status": string(q.Status)}})
	return q, nil
}

// runStep executes one plan entry under the retry policy (§4.C,
// §4.G's run_step). It always returns a RunRecord describing the
// final attempt, even on failure, so the caller can persist it.
func (e *Executor) runStep(ctx context.Context, q *Quest, step Step) (RunRecord, error) {
	start := e.clock.Now()
	input := e.buildInput(q, step)

	e.hooks.Emit(ctx, Hook{
		Event: HookLordInvoked, QuestID: q.ID,
		Data: map[string]any{"worker": step.WorkerName, "tool": step.ToolName, "run_index": step.RunIndex},
	})

	endpoint, err := e.directory.Resolve(step.WorkerName)
	if err != nil {
		return e.failedRun(step, start, input, err), err
	}

	policy := NewRetryPolicyWithCaps(step.Retry.MaxTries, step.Retry.WaitMs, e.retryCaps.MaxTriesCap, e.retryCaps.WaitMsCap)
	result, attempts, err := runRetryLoop(ctx, policy, func(ctx context.Context, _ int) ([]byte, error) {
		return e.tool.Call(ctx, endpoint, step.ToolName, input)
	})

	elapsed := e.clock.Now().Sub(start).Seconds()

	if err != nil {
		e.hooks.Emit(ctx, Hook{
			Event: HookLordError, QuestID: q.ID,
			Data: map[string]any{"worker": step.WorkerName, "tool": step.ToolName, "error": err.Error()},
		})
		rec := e.failedRun(step, start, input, err)
		rec.ExecutionTime = elapsed
		rec.AttemptCount = attempts
		return rec, err
	}

	rec := RunRecord{
		WorkerName:    step.WorkerName,
		ToolName:      step.ToolName,
		RunIndex:      step.RunIndex,
		Status:        StatusCompleted,
		StartTime:     start.Unix(),
		ExecutionTime: elapsed,
		Input:         input,
		Output:        result,
		AttemptCount:  attempts,
	}

	e.hooks.Emit(ctx, Hook{
		Event: HookLordCompleted, QuestID: q.ID,
		Data: map[string]any{"worker": step.WorkerName, "tool": step.ToolName, "duration_sec": elapsed},
	})

	return rec, nil
}

func (e *Executor) failedRun(step Step, start time.Time, input json.RawMessage, err error) RunRecord {
	return RunRecord{
		WorkerName: step.WorkerName,
		ToolName:   step.ToolName,
		RunIndex:   step.RunIndex,
		Status:     StatusFailed,
		StartTime:  start.Unix(),
		Input:      input,
		Error:      err.Error(),
	}
}

// buildInput implements the data-flow rule (§4.G): a step's input is
// the previous step's output. For the first step, quest.Input is
// merged in, shadowed by any keys the previous output would carry
// (there is none yet, so the initial input is simply quest.Input).
func (e *Executor) buildInput(q *Quest, step Step) json.RawMessage {
	prev := e.previousOutput(q)
	if prev == nil {
		return q.Input
	}
	return prev
}

// previousOutput implements history[last_worker][max(run_index)].data,
// or nil if no previous step ran (§4.G's data-flow rule).
func (e *Executor) previousOutput(q *Quest) json.RawMessage {
	if q.LastWorker == "" {
		return nil
	}
	rec := q.History.Latest(q.LastWorker)
	if rec == nil {
		return nil
	}
	return rec.Output
}

// persistStep records one run into history and saves quest + run in a
// single transaction (invariant 4, §3).
func (e *Executor) persistStep(ctx context.Context, q *Quest, run RunRecord) error {
	if q.History == nil {
		q.History = make(History)
	}
	if q.History[run.WorkerName] == nil {
		q.History[run.WorkerName] = make(map[int]*RunRecord)
	}
	recCopy := run
	q.History[run.WorkerName][run.RunIndex] = &recCopy

	if err := e.store.RecordStep(ctx, q, run); err != nil {
		return err
	}
	return nil
}

func (e *Executor) saveQuest(ctx context.Context, q *Quest) error {
	return e.store.SaveQuest(ctx, q)
}

// Pause marks a running quest as paused and writes a pause-reason
// snapshot of its current (history, plan) before changing status, so
// a crash between the two is safely recovered as "still running, but
// a snapshot exists" (§4.H). Returns false if the quest doesn't
// exist. Pause is cooperative: it only stops dispatch of the next
// plan entry; an in-flight step always completes first.
func (e *Executor) Pause(ctx context.Context, questID string) (bool, error) {
	q, err := e.store.LoadQuest(ctx, questID)
	if err != nil {
		return false, nil
	}

	e.requestPause(questID)

	if err := e.store.SaveSnapshot(ctx, questID, q.History, q.Plan, SnapshotReasonPause); err != nil {
		return false, err
	}

	q.Status = StatusPaused
	if err := e.store.SaveQuest(ctx, q); err != nil {
		return false, err
	}
	return true, nil
}

// Resume requires the persisted quest's status to be StatusPaused,
// overlays the latest snapshot's plan and history onto it, clears
// end_time, sets status running, and re-enters Execute (§4.H).
// Resuming an already-running quest is rejected with
// *InvalidStateError and does not mutate the store.
func (e *Executor) Resume(ctx context.Context, questID string) (*Quest, error) {
	q, err := e.store.LoadQuest(ctx, questID)
	if err != nil {
		return nil, err
	}
	if q.Status != StatusPaused {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("cannot resume quest %s: status is %s, not paused", questID, q.Status)}
	}

	snap, err := e.store.LoadLatestSnapshot(ctx, questID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		q.Plan = snap.Plan
		q.History = snap.History
	}

	q.EndTime = 0
	q.Status = StatusRunning
	e.clearPauseRequest(questID)

	return e.Execute(ctx, q)
}

// Replay loads the original quest and re-enters Execute under a fresh
// id "<original>-replay-<unix_seconds>". It never mutates the source
// quest. With no fromWorker, the replay starts the original plan from
// scratch with empty history. With fromWorker, it locates the first
// plan entry whose worker_name matches in the *original* plan,
// replays from there with history copied from the original minus that
// worker's entry (so it re-runs) (§4.G/§4.H).
func (e *Executor) Replay(ctx context.Context, questID string, fromWorker string) (*Quest, error) {
	original, err := e.store.LoadQuest(ctx, questID)
	if err != nil {
		return nil, err
	}

	newID := fmt.Sprintf("%s-replay-%d", questID, e.clock.Now().Unix())

	replay := &Quest{
		ID:     newID,
		Type:   original.Type,
		Input:  original.Input,
		Status: StatusNew,
	}

	full := original.OriginalPlan
	if len(full) == 0 {
		full = fullPlan(original)
	}

	if fromWorker == "" {
		replay.Plan = cloneSteps(full)
		replay.History = make(History)
		return e.Execute(ctx, replay)
	}

	idx := -1
	for i, step := range full {
		if step.WorkerName == fromWorker {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, &UnknownReplayPointError{WorkerName: fromWorker}
	}

	replay.Plan = cloneSteps(full[idx:])
	replay.History = original.History.Clone()
	delete(replay.History, fromWorker)

	return e.Execute(ctx, replay)
}

// fullPlan reconstructs the original plan's full ordering, including
// steps already popped, from history plus the remaining plan: every
// history entry, ordered by start_time, followed by the still-pending
// plan. Reconstructed entries carry only worker_name, tool_name and
// run_index; their on_error and retry settings are not recovered.
//
// Replay uses quest.OriginalPlan, which Execute records before the
// first step runs, and calls this helper only when that field is
// empty: it stitches history back in front of any remaining plan.
func fullPlan(q *Quest) []Step {
	if len(q.History) == 0 {
		return q.Plan
	}

	type ordered struct {
		step  Step
		start int64
	}
	var completed []ordered
	for worker, runs := range q.History {
		for idx, rec := range runs {
			completed = append(completed, ordered{step: Step{
				WorkerName: worker,
				ToolName:   rec.ToolName,
				RunIndex:   idx,
			}, start: rec.StartTime})
		}
	}
	// Stable order by start_time keeps dispatch order deterministic;
	// steps started in the same second fall back to worker#run_index.
	before := func(a, b ordered) bool {
		if a.start != b.start {
			return a.start < b.start
		}
		return stepKey(a.step) < stepKey(b.step)
	}
	for i := 1; i < len(completed); i++ {
		for j := i; j > 0 && before(completed[j], completed[j-1]); j-- {
			completed[j], completed[j-1] = completed[j-1], completed[j]
		}
	}

	full := make([]Step, 0, len(completed)+len(q.Plan))
	for _, c := range completed {
		full = append(full, c.step)
	}
	full = append(full, q.Plan...)
	return full
}

func stepKey(s Step) string {
	return fmt.Sprintf("%s#%d", s.WorkerName, s.RunIndex)
}

func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// --- pause-request bookkeeping -------------------------------------

func (e *Executor) requestPause(questID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseRequests[questID] = true
}

func (e *Executor) clearPauseRequest(questID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pauseRequests, questID)
}

func (e *Executor) pauseRequested(questID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauseRequests[questID]
}
