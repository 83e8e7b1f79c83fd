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

func newReplayCommand() *cobra.Command {
	var fromWorker string

	cmd := &cobra.Command{
		Use:   "replay <quest-id>",
		Short: "Re-run a quest's original plan under a fresh id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := current.executor.Replay(cmd.Context(), args[0], fromWorker)
			if err != nil {
				return &CommandError{Op: "replaying quest", Cause: err}
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&fromWorker, "from-worker", "", "replay starting at this worker's step in the original plan (default: from the start)")
	return cmd
}
