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
	"fmt"

	"github.com/spf13/cobra"
)

func newPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <quest-id>",
		Short: "Request a cooperative pause of a running quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := current.executor.Pause(cmd.Context(), args[0])
			if err != nil {
				return &CommandError{Op: "pausing quest", Cause: err}
			}
			if !ok {
				return &CommandError{Op: "pausing quest", Cause: fmt.Errorf("quest %s not found", args[0])}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pause requested for %s\n", args[0])
			return nil
		},
	}
}
