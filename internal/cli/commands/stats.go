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

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index cache and retention statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	t, err := openTracker()
	if err != nil {
		return err
	}
	defer t.Close()

	s := t.GetCacheStats()
	fmt.Printf("Snapshots:      %d (last sequence %d)\n", s.SnapshotCount, s.LastSequence)
	if s.LastSnapshotID != "" {
		fmt.Printf("Last snapshot:  %s\n", s.LastSnapshotID)
	}
	fmt.Printf("Tracked paths:  %d\n", s.TrackedPaths)
	fmt.Printf("Milestones:     %d\n", s.MilestoneCount)
	fmt.Printf("Checkpoints:    %d", s.CheckpointCount)
	if s.LatestCheckpointID != "" {
		fmt.Printf(" (latest %s)", s.LatestCheckpointID[:8])
	}
	fmt.Println()
	fmt.Printf("Cache rebuilds: %d\n", s.CacheRebuilds)
	return nil
}
