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

	"trackfs/internal/tracker"
)

var (
	milestoneTitle string
	milestoneDesc  string
	milestoneTags  []string
	milestoneEnd   string
)

var milestoneCmd = &cobra.Command{
	Use:   "milestone",
	Short: "Group snapshots into milestones",
}

var milestoneCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Consolidate all snapshots since the last milestone",
	Long: `Create a milestone spanning from one past the previous milestone's end
to the most recent snapshot (or --end). Fails loudly if the range has
sequence gaps or a broken chain link.`,
	Args: cobra.NoArgs,
	RunE: runMilestoneCreate,
}

var milestoneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List milestones",
	Args:  cobra.NoArgs,
	RunE:  runMilestoneList,
}

func init() {
	milestoneCreateCmd.Flags().StringVar(&milestoneTitle, "title", "", "milestone title (required)")
	milestoneCreateCmd.Flags().StringVar(&milestoneDesc, "description", "", "milestone description")
	milestoneCreateCmd.Flags().StringSliceVar(&milestoneTags, "tag", nil, "tags (repeatable)")
	milestoneCreateCmd.Flags().StringVar(&milestoneEnd, "end", "", "end snapshot id (default: newest)")
	milestoneCreateCmd.MarkFlagRequired("title")

	milestoneCmd.AddCommand(milestoneCreateCmd)
	milestoneCmd.AddCommand(milestoneListCmd)
	rootCmd.AddCommand(milestoneCmd)
}

func runMilestoneCreate(cmd *cobra.Command, args []string) error {
	t, err := openTracker()
	if err != nil {
		return err
	}
	defer t.Close()

	m, err := t.CreateMilestoneByRange(tracker.MilestoneOptions{
		Title:         milestoneTitle,
		Description:   milestoneDesc,
		Tags:          milestoneTags,
		EndSnapshotID: milestoneEnd,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created milestone %s\n", m.ID)
	fmt.Printf("Range:  seq %d..%d (%d operations)\n",
		m.StartSequenceNumber, m.EndSequenceNumber, m.Summary.OperationCount)
	fmt.Printf("Files:  %d touched, +%d -%d lines\n",
		len(m.Summary.FilesTouched), m.Summary.LinesAdded, m.Summary.LinesRemoved)
	return nil
}

func runMilestoneList(cmd *cobra.Command, args []string) error {
	t, err := openTracker()
	if err != nil {
		return err
	}
	defer t.Close()

	entries := t.ListMilestones()
	if len(entries) == 0 {
		fmt.Println("No milestones.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  seq %d..%d  %s  %s\n",
			e.Timestamp.Format("2006-01-02 15:04"),
			e.StartSequenceNumber, e.EndSequenceNumber,
			e.ID[:8], e.Title)
	}
	return nil
}
