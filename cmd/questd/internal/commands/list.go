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

	"github.com/tombee/questd/pkg/quest"
)

func newListCommand() *cobra.Command {
	var status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			quests, err := current.store.ListQuests(cmd.Context(), quest.Status(status), limit, offset)
			if err != nil {
				return &CommandError{Op: "listing quests", Cause: err}
			}
			return printJSON(cmd.OutOrStdout(), quests)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (new, running, paused, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of quests to return (0 = no limit)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of newest quests to skip")
	return cmd
}
