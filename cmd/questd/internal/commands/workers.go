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
	"github.com/spf13/cobra"
)

func newWorkersCommand() *cobra.Command {
	var workerName string

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Show per-worker/tool run counts, success rate, and durations",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := current.store.WorkerStats(cmd.Context(), workerName)
			if err != nil {
				return &CommandError{Op: "loading worker stats", Cause: err}
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVar(&workerName, "worker", "", "limit to a single worker name (default: all workers)")
	return cmd
}
