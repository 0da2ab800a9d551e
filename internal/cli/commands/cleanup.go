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
	"time"

	"github.com/spf13/cobra"
)

var cleanupAge time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete snapshots and checkpoints older than --age",
	Long: `Delete snapshot records and prune checkpoints older than the cutoff.
The newest checkpoint is always retained. Deleting snapshot history can
leave sequence gaps; milestone creation over such ranges will report them.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupAge, "age", 30*24*time.Hour,
		"delete records older than this")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	t, err := openTracker()
	if err != nil {
		return err
	}
	defer t.Close()

	cutoff := time.Now().Add(-cleanupAge)
	snaps, err := t.Cleanup(cutoff)
	if err != nil {
		return err
	}
	cps, err := t.CleanupOldCheckpoints(cutoff)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d snapshot(s) and %d checkpoint(s) older than %s.\n",
		snaps, cps, cutoff.Format("2006-01-02 15:04"))
	return nil
}
