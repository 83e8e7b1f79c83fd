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

// Package commands wires the questd CLI's subcommands onto a cobra
// root command: execute, pause, resume, replay, list, stats, workers,
// and seed, matching the executor's programmatic interface (spec.md §6)
// plus the store's listing/analytics surface (§4.E).
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/questd/cmd/questd/internal/config"
	qlog "github.com/tombee/questd/internal/log"
	"github.com/tombee/questd/pkg/quest"
	"github.com/tombee/questd/pkg/quest/store"
	"github.com/tombee/questd/pkg/toolclient"
)

// app bundles the collaborators every subcommand needs, built once in
// the root command's PersistentPreRunE and torn down in
// PersistentPostRunE.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	executor *quest.Executor
}

var current *app

// NewRootCommand builds the questd root command and registers every
// subcommand.
func NewRootCommand(version string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "questd",
		Short:         "Durable sequential executor for multi-step Lord quests",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true, // HandleExitError reports errors itself
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return &CommandError{Op: "starting questd", Cause: err}
			}
			current = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if current != nil && current.store != nil {
				return current.store.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to questd.yaml (default: ./questd.yaml)")

	root.AddCommand(
		newExecuteCommand(),
		newPauseCommand(),
		newResumeCommand(),
		newReplayCommand(),
		newListCommand(),
		newStatsCommand(),
		newWorkersCommand(),
		newSeedCommand(),
	)
	return root
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := qlog.New(qlog.FromEnv())

	st, err := store.Open(store.Config{Path: cfg.StorePath})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	dir := toolclient.NewStaticDirectory(cfg.WorkerEndpoints)

	toolCfg := toolclient.DefaultConfig()
	if cfg.DefaultToolTimeoutMs > 0 {
		toolCfg.Timeout = time.Duration(cfg.DefaultToolTimeoutMs) * time.Millisecond
	}
	tool, err := toolclient.New(toolCfg, "questd/"+versionOrDev(), logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("building tool client: %w", err)
	}

	hooks := quest.NewHookBus(logger)
	hooks.On(quest.HookQuestStarted, loggingSubscriber(logger))
	hooks.On(quest.HookQuestFinished, loggingSubscriber(logger))
	hooks.On(quest.HookLordError, loggingSubscriber(logger))

	executor := quest.NewExecutor(tool, dir, st, hooks, logger).WithRetryCaps(quest.RetryCaps{
		MaxTriesCap: cfg.Retry.MaxTriesCap,
		WaitMsCap:   cfg.Retry.WaitMsCap,
	})

	return &app{cfg: cfg, logger: logger, store: st, executor: executor}, nil
}

// loggingSubscriber mirrors each lifecycle hook into the structured
// logger; it never returns an error, so the bus never logs it twice.
func loggingSubscriber(logger *slog.Logger) quest.Subscriber {
	return func(_ context.Context, hook quest.Hook) error {
		logger.Info("quest hook",
			"event", string(hook.Event), "quest_id", hook.QuestID, "data", hook.Data)
		return nil
	}
}

func versionOrDev() string { return "dev" }
