// Copyright 2025 Trackfs Authors
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
	"strings"

	"github.com/spf13/cobra"

	"trackfs/internal/storage"
)

var (
	historyLimit int
	historyTool  string
	historyFile  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded snapshots, newest first",
	Long: `List the snapshot index for the workspace.

Examples:
  trackfs history
  trackfs history --limit 10
  trackfs history --file src/app.py
  trackfs history --tool write_file`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries to show")
	historyCmd.Flags().StringVar(&historyTool, "tool", "", "filter by tool name")
	historyCmd.Flags().StringVar(&historyFile, "file", "", "filter by affected file")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	t, err := openTracker()
	if err != nil {
		return err
	}
	defer t.Close()

	page := t.GetEditHistory(storage.QueryOptions{
		Limit: historyLimit,
		Tool:  historyTool,
		File:  historyFile,
	})
	if len(page.Entries) == 0 {
		fmt.Println("No snapshots recorded.")
		return nil
	}

	for _, e := range page.Entries {
		fmt.Printf("%4d  %s  %-16s %s  %s\n",
			e.SequenceNumber,
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Tool,
			e.ID[:8],
			strings.Join(e.AffectedFiles, ", "))
	}
	if page.HasMore {
		fmt.Printf("... more (continue with --limit or cursor %s)\n", page.NextCursor[:8])
	}
	return nil
}
