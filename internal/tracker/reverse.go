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

	"trackfs/internal/common"
	"trackfs/internal/diff"
)

// ReverseOptions configure ReverseOp.
type ReverseOptions struct {
	// DryRun resolves the reverse diff without applying it.
	DryRun bool
}

// ReverseOpResult reports the outcome of undoing a snapshot.
type ReverseOpResult struct {
	Success bool `json:"success"`
	// SnapshotID identifies the new snapshot recording the reversal.
	SnapshotID     string `json:"snapshot_id,omitempty"`
	ReverseDiff    string `json:"reverse_diff,omitempty"`
	Message        string `json:"message,omitempty"`
	ChangesApplied int    `json:"changes_applied"`
}

// ReverseOp undoes the snapshot with the given id by applying its reverse
// diff through the runtime, then records the reversal as a new snapshot so
// the chain reflects what actually happened. Pass a nil runtime to use the
// tracker's default.
func (t *Tracker) ReverseOp(id string, opts ReverseOptions, rt Runtime) (*ReverseOpResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rt == nil {
		rt = t.runtime
	}

	snap, err := t.snapshots.Get(id)
	if err != nil {
		return nil, err
	}

	revText := snap.ReverseDiff
	if revText == "" {
		rev := diff.Reverse(snap.Diff)
		if !rev.Success {
			return nil, fmt.Errorf("snapshot %s has no reverse diff and inversion failed (%s): %w",
				id, rev.Reason, common.ErrDiffUnparsable)
		}
		revText = rev.Reversed
	}

	if opts.DryRun {
		return &ReverseOpResult{Success: true, ReverseDiff: revText}, nil
	}

	sections := diff.ParseMultiFile(revText)
	before := make(map[string]string, len(sections))
	for _, s := range sections {
		if s.Opaque || s.IsCreate() {
			continue
		}
		content, err := rt.ReadFile(s.Path)
		if err == nil {
			before[s.Path] = content
		}
	}

	applied := rt.ApplyUnifiedDiff(revText, ApplyOptions{BaseDir: t.workspace})
	if !applied.Success {
		return &ReverseOpResult{
			Message:        applied.Message,
			ChangesApplied: applied.ChangesApplied,
			ReverseDiff:    revText,
		}, nil
	}

	op := Operation{
		Tool:        "reverse",
		Description: fmt.Sprintf("reverse of snapshot %s", id),
	}
	for _, s := range sections {
		if s.Opaque {
			continue
		}
		change := Change{Path: s.Path}
		if old, ok := before[s.Path]; ok {
			change.OldContent = old
		} else {
			change.Created = true
		}
		if s.IsDelete() {
			change.Deleted = true
		} else if content, err := rt.ReadFile(s.Path); err == nil {
			change.NewContent = content
		}
		op.Changes = append(op.Changes, change)
	}

	created, err := t.createSnapshotLocked(op, StrategyWarn)
	if err != nil {
		return nil, fmt.Errorf("record reversal snapshot: %w", err)
	}
	return &ReverseOpResult{
		Success:        true,
		SnapshotID:     created.SnapshotID,
		ReverseDiff:    revText,
		ChangesApplied: applied.ChangesApplied,
		Message:        "ok",
	}, nil
}
