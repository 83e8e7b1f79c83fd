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
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tombee/questd/pkg/quest"
)

// questFile is the on-disk shape accepted by `questd execute`: a quest
// definition with an ordered plan. id is optional; a fresh one is
// generated when omitted.
type questFile struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Input json.RawMessage `json:"input"`
	Plan  []quest.Step    `json:"plan"`
}

func newExecuteCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Drive a new quest's plan to a terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(file)
			if err != nil {
				return err
			}

			var qf questFile
			if err := json.Unmarshal(raw, &qf); err != nil {
				return &CommandError{Op: "parsing quest file", Cause: err}
			}
			if qf.ID == "" {
				qf.ID = uuid.NewString()
			}

			q := &quest.Quest{
				ID:     qf.ID,
				Type:   qf.Type,
				Status: quest.StatusNew,
				Input:  qf.Input,
				Plan:   qf.Plan,
			}

			result, err := current.executor.Execute(cmd.Context(), q)
			if err != nil {
				return &CommandError{Op: "executing quest", Cause: err}
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "quest definition JSON file (default: stdin)")
	return cmd
}

func readInput(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
