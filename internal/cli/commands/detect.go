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

	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect [path...]",
	Short: "Detect out-of-band modifications",
	Long: `Compare live file content against the last tracked state. With no
arguments, every path the engine has ground truth for is checked.`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	t, err := openTracker()
	if err != nil {
		return err
	}
	defer t.Close()

	var paths []string
	if len(args) > 0 {
		paths = args
	}
	res := t.DetectUnknownModifications(paths)

	if !res.HasUnknownChanges {
		fmt.Printf("No unknown changes (%d path(s) checked).\n", res.CheckedPaths)
		return nil
	}

	fmt.Printf("%d unknown change(s):\n\n", len(res.Changes))
	for _, c := range res.Changes {
		fmt.Printf("%-9s %s\n", c.ChangeType, c.Path)
		if c.DiffUnavailable {
			fmt.Println("  (no checkpoint retains the prior content; drift detected but not diffable)")
			continue
		}
		if c.Diff != "" {
			fmt.Println(indent(c.Diff, "  "))
		}
	}
	return nil
}

func indent(s, prefix string) string {
	out := ""
	for _, line := range splitLines(s) {
		out += prefix + line + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
