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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tombee/questd/pkg/quest"
	"github.com/tombee/questd/pkg/toolclient"
)

// cannedQuests are a handful of small plans used to smoke-test a
// deployment's worker_endpoints wiring, analogous to the Python
// reference's demo seed script.
func cannedQuests() []*quest.Quest {
	return []*quest.Quest{
		{
			ID:     "seed-" + uuid.NewString(),
			Type:   "auth-api",
			Input:  json.RawMessage(`{"request":"design an auth API"}`),
			Status: quest.StatusNew,
			Plan: []quest.Step{
				{WorkerName: "architect", ToolName: "design", OnError: quest.ErrorModeStop, Retry: quest.NewRetryPolicy(3, 100)},
				{WorkerName: "forge_master", ToolName: "build", OnError: quest.ErrorModeStop, Retry: quest.NewRetryPolicy(3, 100)},
				{WorkerName: "sentinel", ToolName: "review", OnError: quest.ErrorModeContinue, Retry: quest.NewRetryPolicy(1, 0)},
			},
		},
		{
			ID:     "seed-" + uuid.NewString(),
			Type:   "changelog",
			Input:  json.RawMessage(`{"request":"summarize recent commits"}`),
			Status: quest.StatusNew,
			Plan: []quest.Step{
				{WorkerName: "scribe", ToolName: "summarize", OnError: quest.ErrorModeStop, Retry: quest.NewRetryPolicy(2, 50)},
			},
		},
	}
}

func newSeedCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Run a few canned quests for smoke-testing worker wiring",
		RunE: func(cmd *cobra.Command, args []string) error {
			exec := current.executor
			var cleanup func()

			if dryRun {
				srv := httptest.NewServer(http.HandlerFunc(echoToolHandler))
				cleanup = srv.Close

				dir := toolclient.NewStaticDirectory(map[string]string{
					"architect":   srv.URL,
					"forge_master": srv.URL,
					"sentinel":    srv.URL,
					"scribe":      srv.URL,
				})
				tool, err := toolclient.New(toolclient.DefaultConfig(), "questd/seed", current.logger)
				if err != nil {
					cleanup()
					return &CommandError{Op: "building dry-run tool client", Cause: err}
				}
				exec = quest.NewExecutor(tool, dir, current.store, nil, current.logger).WithRetryCaps(quest.RetryCaps{
					MaxTriesCap: current.cfg.Retry.MaxTriesCap,
					WaitMsCap:   current.cfg.Retry.WaitMsCap,
				})
			}
			if cleanup != nil {
				defer cleanup()
			}

			for _, q := range cannedQuests() {
				result, err := exec.Execute(cmd.Context(), q)
				if err != nil {
					return &CommandError{Op: fmt.Sprintf("seeding quest %s", q.ID), Cause: err}
				}
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "echo every tool call instead of hitting configured worker_endpoints")
	return cmd
}

// echoToolHandler answers every tools/call request with its own
// arguments as the result, so a dry-run seed exercises the executor's
// full loop without depending on real workers.
func echoToolHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int    `json:"id"`
		Params struct {
			Arguments json.RawMessage `json:"arguments"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  req.Params.Arguments,
		"error":   nil,
	})
}
