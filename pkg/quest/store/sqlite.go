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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tombee/questd/pkg/quest"
	_ "modernc.org/sqlite"
)

// schemaVersion is bumped whenever the three tables change shape; any
// bump must ship an idempotent forward migration executed at open
// time (§6, §9).
const schemaVersion = 1

// SQLiteStore is the default Store backing, one file per questd
// instance (store_path configuration key, §6).
type SQLiteStore struct {
	db    *sql.DB
	clock Clock
}

// Config configures a SQLiteStore.
type Config struct {
	// Path is the database file location (":memory:" for tests).
	Path string

	// WAL enables Write-Ahead Logging for concurrent readers.
	WAL bool

	// Clock overrides time.Now; defaults to RealClock.
	Clock Clock
}

// Open opens (and migrates) a SQLite-backed Store.
func Open(cfg Config) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to store: %w", err)
	}

	s := &SQLiteStore{db: db, clock: cfg.Clock}
	if s.clock == nil {
		s.clock = RealClock{}
	}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("applying %s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS quests (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time INTEGER,
			end_time INTEGER,
			duration REAL,
			input_json TEXT,
			output_json TEXT,
			plan_json TEXT,
			original_plan_json TEXT,
			last_worker TEXT,
			error_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			schema_version INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quests_status ON quests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_quests_created_at ON quests(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id INTEGER PRIMARY KEY AUTOINCREMENT,
			quest_id TEXT NOT NULL REFERENCES quests(id) ON DELETE CASCADE,
			worker_name TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			run_index INTEGER NOT NULL,
			status TEXT NOT NULL,
			start_time INTEGER,
			end_time REAL,
			duration REAL,
			input_json TEXT,
			output_json TEXT,
			error_message TEXT,
			attempt_number INTEGER,
			max_attempts INTEGER,
			created_at TEXT NOT NULL,
			UNIQUE(quest_id, worker_name, run_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_quest_run_index ON runs(quest_id, run_index)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_worker_created_at ON runs(worker_name, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			snapshot_id INTEGER PRIMARY KEY AUTOINCREMENT,
			quest_id TEXT NOT NULL REFERENCES quests(id) ON DELETE CASCADE,
			history_json TEXT,
			plan_json TEXT,
			reason TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_quest_created ON snapshots(quest_id, created_at DESC)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	var current int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_meta WHERE id = 1").Scan(&current)
	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx, "INSERT INTO schema_meta (id, version) VALUES (1, ?)", schemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	// No migrations beyond v1 exist yet; a future bump adds cases here.
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveQuest implements Store.
func (s *SQLiteStore) SaveQuest(ctx context.Context, q *quest.Quest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &quest.StoreError{Op: "save_quest", Cause: err}
	}
	defer tx.Rollback()

	if err := s.upsertQuest(ctx, tx, q); err != nil {
		return &quest.StoreError{Op: "save_quest", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &quest.StoreError{Op: "save_quest", Cause: err}
	}
	return nil
}

func (s *SQLiteStore) upsertQuest(ctx context.Context, tx *sql.Tx, q *quest.Quest) error {
	planJSON, err := json.Marshal(q.Plan)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	var errJSON []byte
	if q.Error != nil {
		errJSON, err = json.Marshal(q.Error)
		if err != nil {
			return fmt.Errorf("marshaling error: %w", err)
		}
	}

	now := s.clock.Now()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now

	var duration sql.NullFloat64
	if q.EndTime > 0 && q.StartTime > 0 {
		duration.Valid = true
		duration.Float64 = float64(q.EndTime - q.StartTime)
	}

	originalPlanJSON, err := json.Marshal(q.OriginalPlan)
	if err != nil {
		return fmt.Errorf("marshaling original plan: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO quests (id, type, status, start_time, end_time, duration, input_json, output_json,
			plan_json, original_plan_json, last_worker, error_json, created_at, updated_at, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			duration = excluded.duration,
			input_json = excluded.input_json,
			output_json = excluded.output_json,
			plan_json = excluded.plan_json,
			last_worker = excluded.last_worker,
			error_json = excluded.error_json,
			updated_at = excluded.updated_at
	`,
		q.ID, q.Type, string(q.Status), nullInt64(q.StartTime), nullInt64(q.EndTime), duration,
		string(q.Input), string(q.Output), string(planJSON), string(originalPlanJSON), nullString(q.LastWorker), nullBytes(errJSON),
		q.CreatedAt.Format(time.RFC3339Nano), q.UpdatedAt.Format(time.RFC3339Nano), schemaVersion,
	)
	return err
}

// LoadQuest implements Store.
func (s *SQLiteStore) LoadQuest(ctx context.Context, id string) (*quest.Quest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, start_time, end_time, input_json, output_json, plan_json,
			original_plan_json, last_worker, error_json, created_at, updated_at
		FROM quests WHERE id = ?
	`, id)

	q := &quest.Quest{}
	var startTime, endTime sql.NullInt64
	var inputJSON, outputJSON, planJSON, originalPlanJSON, lastWorker, errJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&q.ID, &q.Type, &q.Status, &startTime, &endTime, &inputJSON, &outputJSON,
		&planJSON, &originalPlanJSON, &lastWorker, &errJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &quest.StoreError{Op: "load_quest", Cause: fmt.Errorf("quest not found: %s", id)}
	}
	if err != nil {
		return nil, &quest.StoreError{Op: "load_quest", Cause: err}
	}

	q.Status = quest.CanonicalStatus(q.Status)
	q.StartTime = startTime.Int64
	q.EndTime = endTime.Int64
	if inputJSON.Valid {
		q.Input = json.RawMessage(inputJSON.String)
	}
	if outputJSON.Valid && outputJSON.String != "" && outputJSON.String != "null" {
		q.Output = json.RawMessage(outputJSON.String)
	}
	if lastWorker.Valid {
		q.LastWorker = lastWorker.String
	}
	if errJSON.Valid && errJSON.String != "" {
		var qe quest.QuestError
		if err := json.Unmarshal([]byte(errJSON.String), &qe); err == nil {
			q.Error = &qe
		}
	}
	if planJSON.Valid && planJSON.String != "" {
		if err := json.Unmarshal([]byte(planJSON.String), &q.Plan); err != nil {
			return nil, &quest.StoreError{Op: "load_quest", Cause: fmt.Errorf("unmarshaling plan: %w", err)}
		}
	}
	if originalPlanJSON.Valid && originalPlanJSON.String != "" {
		if err := json.Unmarshal([]byte(originalPlanJSON.String), &q.OriginalPlan); err != nil {
			return nil, &quest.StoreError{Op: "load_quest", Cause: fmt.Errorf("unmarshaling original plan: %w", err)}
		}
	}
	q.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	q.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	history, err := s.loadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	q.History = history

	return q, nil
}

func (s *SQLiteStore) loadHistory(ctx context.Context, questID string) (quest.History, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_name, tool_name, run_index, status, start_time, end_time, input_json,
			output_json, error_message, attempt_number
		FROM runs WHERE quest_id = ? ORDER BY run_id ASC
	`, questID)
	if err != nil {
		return nil, &quest.StoreError{Op: "load_history", Cause: err}
	}
	defer rows.Close()

	history := make(quest.History)
	for rows.Next() {
		rec := &quest.RunRecord{}
		var execTime sql.NullFloat64
		var inputJSON, outputJSON, errMsg sql.NullString

		if err := rows.Scan(&rec.WorkerName, &rec.ToolName, &rec.RunIndex, &rec.Status,
			&rec.StartTime, &execTime, &inputJSON, &outputJSON, &errMsg, &rec.AttemptCount); err != nil {
			return nil, &quest.StoreError{Op: "load_history", Cause: err}
		}
		rec.Status = quest.CanonicalStatus(rec.Status)
		rec.ExecutionTime = execTime.Float64
		if inputJSON.Valid {
			rec.Input = json.RawMessage(inputJSON.String)
		}
		if outputJSON.Valid && outputJSON.String != "" && outputJSON.String != "null" {
			rec.Output = json.RawMessage(outputJSON.String)
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}

		if history[rec.WorkerName] == nil {
			history[rec.WorkerName] = make(map[int]*quest.RunRecord)
		}
		history[rec.WorkerName][rec.RunIndex] = rec
	}
	return history, rows.Err()
}

// DeleteQuest implements Store.
func (s *SQLiteStore) DeleteQuest(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM quests WHERE id = ?", id); err != nil {
		return &quest.StoreError{Op: "delete_quest", Cause: err}
	}
	return nil
}

// RecordStep implements Store: inserts run in the same transaction as
// the quest upsert, so plan and history never diverge on a crash
// (invariant 4, §3).
func (s *SQLiteStore) RecordStep(ctx context.Context, q *quest.Quest, run quest.RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &quest.StoreError{Op: "record_step", Cause: err}
	}
	defer tx.Rollback()

	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return &quest.StoreError{Op: "record_step", Cause: err}
	}
	outputJSON, err := json.Marshal(run.Output)
	if err != nil {
		return &quest.StoreError{Op: "record_step", Cause: err}
	}

	now := s.clock.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (quest_id, worker_name, tool_name, run_index, status, start_time, end_time,
			duration, input_json, output_json, error_message, attempt_number, max_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(quest_id, worker_name, run_index) DO UPDATE SET
			tool_name = excluded.tool_name,
			status = excluded.status,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			duration = excluded.duration,
			input_json = excluded.input_json,
			output_json = excluded.output_json,
			error_message = excluded.error_message,
			attempt_number = excluded.attempt_number
	`,
		q.ID, run.WorkerName, run.ToolName, run.RunIndex, string(run.Status), run.StartTime,
		run.ExecutionTime, run.ExecutionTime, string(inputJSON), string(outputJSON),
		nullString(run.Error), run.AttemptCount, run.AttemptCount, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return &quest.StoreError{Op: "record_step", Cause: fmt.Errorf("inserting run: %w", err)}
	}

	if err := s.upsertQuest(ctx, tx, q); err != nil {
		return &quest.StoreError{Op: "record_step", Cause: fmt.Errorf("updating quest: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &quest.StoreError{Op: "record_step", Cause: err}
	}
	return nil
}

// SaveSnapshot implements Store.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, questID string, history quest.History, plan []quest.Step, reason quest.SnapshotReason) error {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return &quest.StoreError{Op: "save_snapshot", Cause: err}
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return &quest.StoreError{Op: "save_snapshot", Cause: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (quest_id, history_json, plan_json, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, questID, string(historyJSON), string(planJSON), string(reason), s.clock.Now().Format(time.RFC3339Nano))
	if err != nil {
		return &quest.StoreError{Op: "save_snapshot", Cause: err}
	}
	return nil
}

// LoadLatestSnapshot implements Store.
func (s *SQLiteStore) LoadLatestSnapshot(ctx context.Context, questID string) (*quest.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, quest_id, history_json, plan_json, reason, created_at
		FROM snapshots WHERE quest_id = ? ORDER BY created_at DESC, snapshot_id DESC LIMIT 1
	`, questID)

	var snap quest.Snapshot
	var historyJSON, planJSON, createdAt string
	var reason string

	err := row.Scan(&snap.ID, &snap.QuestID, &historyJSON, &planJSON, &reason, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &quest.StoreError{Op: "load_latest_snapshot", Cause: err}
	}

	snap.Reason = quest.SnapshotReason(reason)
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if err := json.Unmarshal([]byte(historyJSON), &snap.History); err != nil {
		return nil, &quest.StoreError{Op: "load_latest_snapshot", Cause: err}
	}
	if err := json.Unmarshal([]byte(planJSON), &snap.Plan); err != nil {
		return nil, &quest.StoreError{Op: "load_latest_snapshot", Cause: err}
	}
	return &snap, nil
}

// ListQuests implements Store.
func (s *SQLiteStore) ListQuests(ctx context.Context, status quest.Status, limit, offset int) ([]*quest.Quest, error) {
	query := `SELECT id FROM quests WHERE 1=1`
	args := []any{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 {
		// SQLite only accepts OFFSET after a LIMIT; -1 means no limit.
		query += " LIMIT -1"
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &quest.StoreError{Op: "list_quests", Cause: err}
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &quest.StoreError{Op: "list_quests", Cause: err}
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &quest.StoreError{Op: "list_quests", Cause: err}
	}

	quests := make([]*quest.Quest, 0, len(ids))
	for _, id := range ids {
		q, err := s.LoadQuest(ctx, id)
		if err != nil {
			return nil, err
		}
		quests = append(quests, q)
	}
	return quests, nil
}

// QuestStats implements Store.
func (s *SQLiteStore) QuestStats(ctx context.Context) (*QuestStats, error) {
	stats := &QuestStats{CountByStatus: make(map[quest.Status]int64)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM quests GROUP BY status`)
	if err != nil {
		return nil, &quest.StoreError{Op: "quest_stats", Cause: err}
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, &quest.StoreError{Op: "quest_stats", Cause: err}
		}
		stats.CountByStatus[quest.CanonicalStatus(quest.Status(status))] += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &quest.StoreError{Op: "quest_stats", Cause: err}
	}

	row := s.db.QueryRowContext(ctx, `SELECT MIN(duration), AVG(duration), MAX(duration) FROM quests WHERE duration IS NOT NULL`)
	var minD, avgD, maxD sql.NullFloat64
	if err := row.Scan(&minD, &avgD, &maxD); err != nil {
		return nil, &quest.StoreError{Op: "quest_stats", Cause: err}
	}
	stats.MinDurationSec = minD.Float64
	stats.AvgDurationSec = avgD.Float64
	stats.MaxDurationSec = maxD.Float64

	return stats, nil
}

// WorkerStats implements Store.
func (s *SQLiteStore) WorkerStats(ctx context.Context, workerName string) ([]WorkerStat, error) {
	query := `
		SELECT worker_name, tool_name,
			COUNT(*) AS total,
			SUM(CASE WHEN status IN ('success','completed') THEN 1 ELSE 0 END) AS successes,
			MIN(end_time), AVG(end_time), MAX(end_time)
		FROM runs WHERE 1=1
	`
	args := []any{}
	if workerName != "" {
		query += " AND worker_name = ?"
		args = append(args, workerName)
	}
	query += " GROUP BY worker_name, tool_name ORDER BY worker_name, tool_name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &quest.StoreError{Op: "worker_stats", Cause: err}
	}
	defer rows.Close()

	var out []WorkerStat
	for rows.Next() {
		var ws WorkerStat
		var total, successes sql.NullInt64
		var minD, avgD, maxD sql.NullFloat64
		if err := rows.Scan(&ws.WorkerName, &ws.ToolName, &total, &successes, &minD, &avgD, &maxD); err != nil {
			return nil, &quest.StoreError{Op: "worker_stats", Cause: err}
		}
		ws.TotalRuns = total.Int64
		ws.SuccessRuns = successes.Int64
		if ws.TotalRuns > 0 {
			ws.SuccessRate = float64(ws.SuccessRuns) / float64(ws.TotalRuns)
		}
		ws.MinDurationSec = minD.Float64
		ws.AvgDurationSec = avgD.Float64
		ws.MaxDurationSec = maxD.Float64
		out = append(out, ws)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
