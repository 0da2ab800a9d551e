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

var showReverse bool

var showCmd = &cobra.Command{
	Use:   "show <snapshot-id>",
	Short: "Print a snapshot's diff and summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showReverse, "reverse", false, "print the reverse diff instead")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	t, err := openTracker()
	if err != nil {
		return err
	}
	defer t.Close()

	snap, err := t.GetSnapshot(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Snapshot:  %s (seq %d)\n", snap.ID, snap.SequenceNumber)
	fmt.Printf("Tool:      %s\n", snap.Tool)
	fmt.Printf("Time:      %s\n", snap.Timestamp.Format("2006-01-02 15:04:05"))
	if snap.Description != "" {
		fmt.Printf("Note:      %s\n", snap.Description)
	}
	fmt.Printf("Changes:   +%d -%d across %d file(s)\n\n",
		snap.Metadata.LinesAdded, snap.Metadata.LinesRemoved, snap.Metadata.FileCount)

	if showReverse {
		if snap.ReverseDiff == "" {
			return fmt.Errorf("snapshot %s has no reverse diff", snap.ID)
		}
		fmt.Print(snap.ReverseDiff)
		return nil
	}
	fmt.Print(snap.Diff)
	return nil
}
