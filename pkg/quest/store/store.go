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

// Package store is the durable repository for quest records, per-step
// runs, and snapshots (§4.E).
package store

import (
	"context"
	"time"

	"github.com/tombee/questd/pkg/quest"
)

// Store is the state store's operation surface. Every operation is a
// single transaction; RecordStep writes the run row and the quest row
// together inside one transaction so a crash never leaves the plan and
// run set inconsistent (invariant 4 in §3).
type Store interface {
	// SaveQuest upserts quest by id: status, timings, output, plan,
	// and updated_at. Idempotent: saving the same quest twice has the
	// same observable effect as saving it once.
	SaveQuest(ctx context.Context, q *quest.Quest) error

	// LoadQuest rebuilds a Quest by reading the quest row and
	// aggregating every matching row in the runs table into History.
	LoadQuest(ctx context.Context, id string) (*quest.Quest, error)

	// DeleteQuest cascade-deletes the quest's runs and snapshots.
	DeleteQuest(ctx context.Context, id string) error

	// RecordStep inserts one run row, replacing any existing row with
	// the same (quest_id, worker_name, run_index), and saves the quest's
	// current plan/status/history in the same transaction (invariant 4,
	// §3).
	RecordStep(ctx context.Context, q *quest.Quest, run quest.RunRecord) error

	// SaveSnapshot appends a (history, plan) capture. Append-only.
	SaveSnapshot(ctx context.Context, questID string, history quest.History, plan []quest.Step, reason quest.SnapshotReason) error

	// LoadLatestSnapshot returns the most recent snapshot by
	// created_at, or nil if none exists.
	LoadLatestSnapshot(ctx context.Context, questID string) (*quest.Snapshot, error)

	// ListQuests returns a newest-first page of quests, optionally
	// filtered by status.
	ListQuests(ctx context.Context, status quest.Status, limit, offset int) ([]*quest.Quest, error)

	// QuestStats aggregates counts by status and duration statistics.
	QuestStats(ctx context.Context) (*QuestStats, error)

	// WorkerStats aggregates per (worker, tool) counts, success rate,
	// and duration statistics. An empty workerName aggregates across
	// all workers.
	WorkerStats(ctx context.Context, workerName string) ([]WorkerStat, error)

	// Close releases the store's underlying resources.
	Close() error
}

// QuestStats is the aggregate returned by Store.QuestStats.
type QuestStats struct {
	CountByStatus  map[quest.Status]int64 `json:"count_by_status"`
	MinDurationSec float64                `json:"min_duration_sec"`
	AvgDurationSec float64                `json:"avg_duration_sec"`
	MaxDurationSec float64                `json:"max_duration_sec"`
}

// WorkerStat is one row of Store.WorkerStats: per (worker, tool)
// counts, success rate, and duration statistics.
type WorkerStat struct {
	WorkerName     string  `json:"worker_name"`
	ToolName       string  `json:"tool_name"`
	TotalRuns      int64   `json:"total_runs"`
	SuccessRuns    int64   `json:"success_runs"`
	SuccessRate    float64 `json:"success_rate"`
	MinDurationSec float64 `json:"min_duration_sec"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
	MaxDurationSec float64 `json:"max_duration_sec"`
}

// Clock abstracts time.Now for deterministic tests; production code
// should use RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
