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

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"trackfs/internal/common"
)

// Milestone is an immutable grouping of a contiguous, gap-free run of
// snapshots with a merged diff and a summary.
type Milestone struct {
	ID                  string           `json:"id"`
	Title               string           `json:"title"`
	Description         string           `json:"description,omitempty"`
	StartSequenceNumber int64            `json:"start_sequence_number"`
	EndSequenceNumber   int64            `json:"end_sequence_number"`
	SnapshotIDs         []string         `json:"snapshot_ids"`
	PreviousMilestoneID string           `json:"previous_milestone_id,omitempty"`
	CombinedDiff        string           `json:"combined_diff"`
	Summary             MilestoneSummary `json:"summary"`
	Tags                []string         `json:"tags,omitempty"`
	Timestamp           time.Time        `json:"timestamp"`
}

// MilestoneSummary aggregates what the member snapshots did.
type MilestoneSummary struct {
	FilesTouched   []string `json:"files_touched"`
	LinesAdded     int      `json:"lines_added"`
	LinesRemoved   int      `json:"lines_removed"`
	OperationCount int      `json:"operation_count"`
}

// MilestoneEntry is the index projection of a milestone.
type MilestoneEntry struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	StartSequenceNumber int64     `json:"start_sequence_number"`
	EndSequenceNumber   int64     `json:"end_sequence_number"`
	EndSnapshotID       string    `json:"end_snapshot_id"`
	Timestamp           time.Time `json:"timestamp"`
}

type milestoneIndexFile struct {
	Entries []MilestoneEntry `json:"entries"`
}

// MilestoneStore persists milestones under <dir>/<id>.json with an
// index.json projection mirrored in memory.
type MilestoneStore struct {
	dir     string
	entries []MilestoneEntry
	byID    map[string]int
}

// OpenMilestoneStore loads the milestone index from dir; corruption falls
// back to an empty cache.
func OpenMilestoneStore(dir string) (*MilestoneStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create milestones dir: %w", err)
	}
	s := &MilestoneStore{dir: dir, byID: make(map[string]int)}

	var idx milestoneIndexFile
	err := ReadJSON(s.indexPath(), &idx)
	if err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("milestones: index unreadable, starting with empty cache")
		return s, nil
	}
	s.entries = idx.Entries
	for i, e := range s.entries {
		s.byID[e.ID] = i
	}
	return s, nil
}

func (s *MilestoneStore) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

// Append persists a milestone record and updates the index. Milestones are
// immutable, so a duplicate id is rejected rather than overwritten.
func (s *MilestoneStore) Append(m *Milestone) error {
	if _, ok := s.byID[m.ID]; ok {
		return fmt.Errorf("milestone %s: %w", m.ID, common.ErrExists)
	}
	if err := WriteJSONAtomic(filepath.Join(s.dir, m.ID+".json"), m); err != nil {
		return fmt.Errorf("write milestone record: %w", err)
	}

	entry := MilestoneEntry{
		ID:                  m.ID,
		Title:               m.Title,
		StartSequenceNumber: m.StartSequenceNumber,
		EndSequenceNumber:   m.EndSequenceNumber,
		EndSnapshotID:       m.SnapshotIDs[len(m.SnapshotIDs)-1],
		Timestamp:           m.Timestamp,
	}
	entries := append(append([]MilestoneEntry(nil), s.entries...), entry)
	if err := WriteJSONAtomic(s.indexPath(), milestoneIndexFile{Entries: entries}); err != nil {
		return fmt.Errorf("write milestone index: %w", err)
	}
	s.entries = entries
	s.byID[m.ID] = len(entries) - 1
	return nil
}

// Get loads the full milestone record for id.
func (s *MilestoneStore) Get(id string) (*Milestone, error) {
	if _, ok := s.byID[id]; !ok {
		return nil, fmt.Errorf("milestone %s: %w", id, common.ErrNotFound)
	}
	var m Milestone
	if err := ReadJSON(filepath.Join(s.dir, id+".json"), &m); err != nil {
		return nil, fmt.Errorf("load milestone %s: %w", id, err)
	}
	return &m, nil
}

// Last returns the newest milestone entry.
func (s *MilestoneStore) Last() (MilestoneEntry, bool) {
	if len(s.entries) == 0 {
		return MilestoneEntry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// List returns a copy of all milestone entries in creation order.
func (s *MilestoneStore) List() []MilestoneEntry {
	out := make([]MilestoneEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Count returns the number of milestones.
func (s *MilestoneStore) Count() int { return len(s.entries) }
