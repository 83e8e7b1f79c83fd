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
	"log/slog"
	"sync"
	"time"
)

// HookEvent identifies a point in the quest lifecycle.
type HookEvent string

const (
	HookQuestStarted  HookEvent = "quest_started"
	HookQuestFinished HookEvent = "quest_finished"
	HookLordInvoked   HookEvent = "lord_invoked"
	HookLordCompleted HookEvent = "lord_completed"
	HookLordError     HookEvent = "lord_error"
)

// Hook carries the read-only payload delivered to subscribers.
// Subscribers must treat Data as a snapshot: the bus does not reread
// it, and mutating it has no effect on execution.
type Hook struct {
	Event     HookEvent      `json:"event"`
	QuestID   string         `json:"quest_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscriber handles a dispatched hook. It returns an error only to
// have it logged; the bus never lets a subscriber error affect quest
// execution.
type Subscriber func(ctx context.Context, hook Hook) error

// subscription pairs a listener with its dispatch discipline: each
// Emit starts every async subscriber on a new goroutine and never
// waits for it. There is no worker pool, so the number of async
// subscribers running at once is not bounded.
type subscription struct {
	fn    Subscriber
	async bool
}

// HookBus dispatches lifecycle events to registered subscribers in
// registration order. Registration is additive; there is no
// unregister surface, matching the source system's append-only
// subscription model.
type HookBus struct {
	mu        sync.RWMutex
	listeners map[HookEvent][]subscription
	logger    *slog.Logger
}

// NewHookBus creates an empty hook bus. A nil logger falls back to
// slog.Default().
func NewHookBus(logger *slog.Logger) *HookBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &HookBus{
		listeners: make(map[HookEvent][]subscription),
		logger:    logger,
	}
}

// On registers a synchronous subscriber: the bus waits for it to
// return before dispatching to the next subscriber.
func (b *HookBus) On(event HookEvent, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], subscription{fn: fn})
}

// OnAsync registers a cooperatively-suspending subscriber. It runs on
// its own goroutine; Emit does not block on it.
func (b *HookBus) OnAsync(event HookEvent, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], subscription{fn: fn, async: true})
}

// Emit dispatches hook to every subscriber registered for hook.Event,
// in registration order. A subscriber panic or error is caught and
// logged; it never propagates to the caller and never aborts
// execution of the quest.
func (b *HookBus) Emit(ctx context.Context, hook Hook) {
	if hook.Timestamp.IsZero() {
		hook.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.listeners[hook.Event]))
	copy(subs, b.listeners[hook.Event])
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.async {
			go b.dispatch(ctx, sub.fn, hook)
			continue
		}
		b.dispatch(ctx, sub.fn, hook)
	}
}

// dispatch invokes fn, recovering from panics and logging any error
// so a misbehaving subscriber can never affect the executor.
func (b *HookBus) dispatch(ctx context.Context, fn Subscriber, hook Hook) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("hook subscriber panicked",
				"event", hook.Event, "quest_id", hook.QuestID, "panic", r)
		}
	}()

	if err := fn(ctx, hook); err != nil {
		b.logger.Error("hook subscriber returned error",
			"event", hook.Event, "quest_id", hook.QuestID, "error", err)
	}
}

// ListenerCount returns the number of subscribers registered for
// event, useful in tests.
func (b *HookBus) ListenerCount(event HookEvent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}
