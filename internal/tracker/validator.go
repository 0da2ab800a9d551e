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
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"trackfs/internal/diff"
	"trackfs/internal/hashutil"
	"trackfs/internal/ignore"
	"trackfs/internal/storage"
)

// ChangeType classifies detected drift on a path.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// UnknownChange describes drift on one path: content not produced by any
// recorded snapshot. Diff is empty with DiffUnavailable set when no
// checkpoint retains the prior content, in which case the drift can be
// detected but not diffed.
type UnknownChange struct {
	Path            string     `json:"path"`
	ChangeType      ChangeType `json:"change_type"`
	ExpectedHash    string     `json:"expected_hash,omitempty"`
	ActualHash      string     `json:"actual_hash,omitempty"`
	Diff            string     `json:"diff,omitempty"`
	DiffUnavailable bool       `json:"diff_unavailable,omitempty"`
}

// ValidationResult is the outcome of pre-operation validation.
type ValidationResult struct {
	Valid                bool            `json:"valid"`
	Strategy             Strategy        `json:"strategy"`
	UnknownChanges       []UnknownChange `json:"unknown_changes,omitempty"`
	ContinuityViolations []string        `json:"continuity_violations,omitempty"`
	Warnings             []string        `json:"warnings,omitempty"`
}

// validator proves the workspace matches expectation before and after each
// tracked operation, or explains the drift. It never mutates the chain.
type validator struct {
	workspace   string
	matcher     *ignore.Matcher
	snapshots   *storage.SnapshotStore
	checkpoints *storage.CheckpointStore
}

func (v *validator) liveHash(path string) string {
	return hashutil.HashFile(filepath.Join(v.workspace, filepath.FromSlash(path)))
}

func (v *validator) liveExists(path string) bool {
	_, err := os.Stat(filepath.Join(v.workspace, filepath.FromSlash(path)))
	return err == nil
}

// expectedHash resolves the hash the engine believes path should have:
// the carried-forward result hash from the last snapshot touching it,
// falling back to the latest checkpoint's recorded content. The second
// return is false when the engine has never observed the path.
func (v *validator) expectedHash(path string, cpHashes map[string]string) (string, bool) {
	if h, ok := v.snapshots.CurrentHash(path); ok {
		return h, true
	}
	if h, ok := cpHashes[path]; ok {
		return h, true
	}
	return "", false
}

// detectDrift compares live content against expectation for each tracked
// path and returns one UnknownChange per drifted path. The checkpoint is the
// only place full prior content is retained, so the per-change diff is
// present only when a checkpoint covers the path.
func (v *validator) detectDrift(paths []string) []UnknownChange {
	cpHashes := v.checkpoints.LatestHashes()
	var cp *storage.Checkpoint
	if c, err := v.checkpoints.Load(""); err == nil {
		cp = c
	}

	var changes []UnknownChange
	for _, path := range v.matcher.Filter(paths) {
		expected, known := v.expectedHash(path, cpHashes)
		if !known {
			// Never observed: part of the workspace's initial state,
			// not drift.
			continue
		}
		actual := v.liveHash(path)
		if actual == expected {
			continue
		}

		change := UnknownChange{
			Path:         path,
			ExpectedHash: expected,
			ActualHash:   actual,
		}

		priorExisted := expected != hashutil.EmptyHash()
		switch {
		case !priorExisted && v.liveExists(path):
			change.ChangeType = ChangeCreated
		case priorExisted && !v.liveExists(path):
			change.ChangeType = ChangeDeleted
		default:
			change.ChangeType = ChangeModified
		}

		v.attachDriftDiff(&change, cp)
		changes = append(changes, change)
	}
	return changes
}

// attachDriftDiff generates the drift diff from the latest checkpoint's
// content to the live content. Without a checkpoint covering the path the
// prior content is unknown and only the hash mismatch can be reported.
func (v *validator) attachDriftDiff(change *UnknownChange, cp *storage.Checkpoint) {
	if cp == nil {
		change.DiffUnavailable = true
		return
	}
	old, ok := cp.Files[change.Path]
	if !ok && change.ChangeType != ChangeCreated {
		change.DiffUnavailable = true
		return
	}

	live := ""
	if change.ChangeType != ChangeDeleted {
		data, err := os.ReadFile(filepath.Join(v.workspace, filepath.FromSlash(change.Path)))
		if err != nil {
			change.DiffUnavailable = true
			return
		}
		live = string(data)
	}

	oldPath, newPath := change.Path, change.Path
	switch change.ChangeType {
	case ChangeCreated:
		oldPath = ""
	case ChangeDeleted:
		newPath = ""
	}
	text, err := diff.Generate(old, live, oldPath, newPath)
	if err != nil {
		log.WithError(err).WithField("path", change.Path).Warn("validator: drift diff failed")
		change.DiffUnavailable = true
		return
	}
	change.Diff = text
}

// checkContinuity verifies that each declared base hash matches the
// carried-forward expectation. A mismatch means the file changed outside
// the tracked path. For a path's first tracked touch the live workspace
// state is the baseline; the declared result hash is also accepted there,
// because the tool layer may record an operation after applying it.
func (v *validator) checkContinuity(baseHashes, resultHashes, cpHashes map[string]string) []string {
	var violations []string
	for path, declared := range baseHashes {
		expected, known := v.expectedHash(path, cpHashes)
		if !known {
			live := v.liveHash(path)
			if declared == live || resultHashes[path] == live {
				continue
			}
			violations = append(violations, path)
			continue
		}
		if declared != expected {
			violations = append(violations, path)
		}
	}
	return violations
}
