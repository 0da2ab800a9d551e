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

package tracker

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trackfs/internal/common"
	"trackfs/internal/diff"
	"trackfs/internal/storage"
)

// MilestoneOptions configure milestone consolidation. The start of the range
// is never caller-supplied: it is always one past the previous milestone's
// end (or the very first snapshot), which enforces gap-freedom by
// construction.
type MilestoneOptions struct {
	Title         string
	Description   string
	Tags          []string
	EndSnapshotID string // empty = most recent snapshot
}

// CreateMilestoneByRange consolidates the snapshots from the previous
// milestone's end up to the requested end into one milestone with a merged
// diff. Sequence gaps or broken chain links abort with a descriptive error
// instead of persisting an inconsistent milestone.
func (t *Tracker) CreateMilestoneByRange(opts MilestoneOptions) (*storage.Milestone, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := int64(1)
	prevID, prevEndSnapshotID := "", ""
	if prev, ok := t.milestones.Last(); ok {
		start = prev.EndSequenceNumber + 1
		prevID = prev.ID
		prevEndSnapshotID = prev.EndSnapshotID
	}

	var end int64
	if opts.EndSnapshotID != "" {
		snap, err := t.snapshots.Get(opts.EndSnapshotID)
		if err != nil {
			return nil, err
		}
		end = snap.SequenceNumber
	} else {
		last, ok := t.snapshots.LastEntry()
		if !ok {
			return nil, common.ErrNoSnapshots
		}
		end = last.SequenceNumber
	}
	if end < start {
		return nil, fmt.Errorf("no snapshots after sequence %d: %w", start-1, common.ErrInvalidRange)
	}

	entries, err := t.snapshots.RangeBySeq(start, end)
	if err != nil {
		return nil, fmt.Errorf("milestone range %d..%d: %w", start, end, err)
	}
	if entries[0].PreviousSnapshotID != prevEndSnapshotID {
		return nil, fmt.Errorf("first snapshot %s does not chain to previous milestone end %q: %w",
			entries[0].ID, prevEndSnapshotID, common.ErrChainCorrupt)
	}

	return t.buildMilestone(entries, prevID, opts)
}

// CreateMilestone consolidates an explicit snapshot id list. The ids must
// form exactly the gap-free range that CreateMilestoneByRange would pick, so
// consecutive milestones can never leave uncovered snapshots between them.
func (t *Tracker) CreateMilestone(ids []string, opts MilestoneOptions) (*storage.Milestone, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no snapshot ids given: %w", common.ErrInvalidRange)
	}

	seqs := make([]int64, 0, len(ids))
	for _, id := range ids {
		snap, err := t.snapshots.Get(id)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, snap.SequenceNumber)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			return nil, fmt.Errorf("snapshot ids skip sequence %d: %w", seqs[i-1]+1, common.ErrSequenceGap)
		}
	}

	expectedStart := int64(1)
	if prev, ok := t.milestones.Last(); ok {
		expectedStart = prev.EndSequenceNumber + 1
	}
	if seqs[0] != expectedStart {
		return nil, fmt.Errorf("ids start at sequence %d, milestone must start at %d: %w",
			seqs[0], expectedStart, common.ErrInvalidRange)
	}

	end, err := t.endIDForSeq(seqs[len(seqs)-1])
	if err != nil {
		return nil, err
	}
	opts.EndSnapshotID = end
	return t.CreateMilestoneByRange(opts)
}

func (t *Tracker) endIDForSeq(seq int64) (string, error) {
	for _, e := range t.snapshots.Entries() {
		if e.SequenceNumber == seq {
			return e.ID, nil
		}
	}
	return "", fmt.Errorf("sequence %d: %w", seq, common.ErrNotFound)
}

func (t *Tracker) buildMilestone(entries []storage.IndexEntry, prevID string, opts MilestoneOptions) (*storage.Milestone, error) {
	ids := make([]string, 0, len(entries))
	var diffs []string
	summary := storage.MilestoneSummary{OperationCount: len(entries)}
	touched := make(map[string]struct{})

	for _, e := range entries {
		snap, err := t.snapshots.Get(e.ID)
		if err != nil {
			return nil, fmt.Errorf("load member snapshot: %w", err)
		}
		ids = append(ids, snap.ID)
		if snap.Diff != "" {
			diffs = append(diffs, snap.Diff)
		}
		summary.LinesAdded += snap.Metadata.LinesAdded
		summary.LinesRemoved += snap.Metadata.LinesRemoved
		for _, p := range snap.AffectedFiles {
			touched[p] = struct{}{}
		}
	}
	for p := range touched {
		summary.FilesTouched = append(summary.FilesTouched, p)
	}
	sort.Strings(summary.FilesTouched)

	merged := diff.Merge(diffs, diff.MergeOptions{})
	if merged.Outcome != diff.MergeClean {
		log.WithFields(log.Fields{
			"conflicts": len(merged.Conflicts),
			"opaque":    len(merged.OpaqueBlocks),
		}).Warn("milestone: combined diff merged with degradations")
	}

	m := &storage.Milestone{
		ID:                  uuid.New().String(),
		Title:               opts.Title,
		Description:         opts.Description,
		StartSequenceNumber: entries[0].SequenceNumber,
		EndSequenceNumber:   entries[len(entries)-1].SequenceNumber,
		SnapshotIDs:         ids,
		PreviousMilestoneID: prevID,
		CombinedDiff:        merged.Merged,
		Summary:             summary,
		Tags:                opts.Tags,
		Timestamp:           time.Now(),
	}
	if err := t.milestones.Append(m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMilestone loads a full milestone record.
func (t *Tracker) GetMilestone(id string) (*storage.Milestone, error) {
	return t.milestones.Get(id)
}

// ListMilestones returns milestone index entries in creation order.
func (t *Tracker) ListMilestones() []storage.MilestoneEntry {
	return t.milestones.List()
}
