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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackfs/internal/common"
	"trackfs/internal/storage"
)

func openTestTracker(t *testing.T, cfg *Config) (*Tracker, string) {
	t.Helper()
	ws := t.TempDir()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	tr, err := Open(ws, WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr, ws
}

func writeFile(t *testing.T, ws, rel, content string) {
	t.Helper()
	full := filepath.Join(ws, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

// applyAndRecord emulates the tool layer: write the file first, then declare
// the operation.
func applyAndRecord(t *testing.T, tr *Tracker, ws, path, oldContent, newContent string) *CreateResult {
	t.Helper()
	writeFile(t, ws, path, newContent)
	res, err := tr.CreateSnapshot(Operation{
		Tool:        "edit",
		Description: "edit " + path,
		Changes: []Change{{
			Path:       path,
			OldContent: oldContent,
			NewContent: newContent,
			Created:    oldContent == "",
		}},
	})
	require.NoError(t, err)
	return res
}

func TestCreateSnapshotChainsSequences(t *testing.T) {
	tr, ws := openTestTracker(t, nil)

	r1 := applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")
	r2 := applyAndRecord(t, tr, ws, "app.py", "print(1)\n", "print(2)\n")

	assert.True(t, r1.Validation.Valid)
	assert.True(t, r2.Validation.Valid)
	assert.Empty(t, r2.Warnings)

	s2, err := tr.GetSnapshot(r2.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s2.SequenceNumber)
	assert.Equal(t, r1.SnapshotID, s2.PreviousSnapshotID)
	assert.Contains(t, s2.Diff, "-print(1)")
	assert.Contains(t, s2.Diff, "+print(2)")
	assert.Contains(t, s2.ReverseDiff, "+print(1)")
}

func TestDetectExternalModification(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")

	// Out-of-band overwrite, not reported to the tracker.
	writeFile(t, ws, "app.py", "print(2)\n")

	det := tr.DetectUnknownModifications([]string{"app.py"})
	require.True(t, det.HasUnknownChanges)
	require.Len(t, det.Changes, 1)
	c := det.Changes[0]
	assert.Equal(t, ChangeModified, c.ChangeType)
	assert.Equal(t, "app.py", c.Path)
	assert.NotEqual(t, c.ExpectedHash, c.ActualHash)
	assert.False(t, c.DiffUnavailable)
	assert.Contains(t, c.Diff, "-print(1)")
	assert.Contains(t, c.Diff, "+print(2)")

	// Nil path list falls back to everything the engine has ground truth for.
	all := tr.DetectUnknownModifications(nil)
	assert.True(t, all.HasUnknownChanges)
}

func TestDetectExternalDeletion(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")

	require.NoError(t, os.Remove(filepath.Join(ws, "app.py")))

	det := tr.DetectUnknownModifications(nil)
	require.True(t, det.HasUnknownChanges)
	assert.Equal(t, ChangeDeleted, det.Changes[0].ChangeType)
	assert.Contains(t, det.Changes[0].Diff, "-print(1)")
}

func TestDetectIgnoresUntrackedPaths(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")

	// Files the engine never observed are initial state, not drift.
	writeFile(t, ws, "preexisting.txt", "was always here\n")

	det := tr.DetectUnknownModifications([]string{"preexisting.txt"})
	assert.False(t, det.HasUnknownChanges)
}

func TestStrictRejectsDriftedOperation(t *testing.T) {
	tr, ws := openTestTracker(t, &Config{Validation: "strict"})
	applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")

	// Normal tracked edits pass under strict.
	applyAndRecord(t, tr, ws, "app.py", "print(1)\n", "print(2)\n")

	// External overwrite, then an operation declaring the drifted content as
	// its base: rejected, nothing recorded.
	writeFile(t, ws, "app.py", "print(99)\n")
	writeFile(t, ws, "app.py", "print(3)\n")
	_, err := tr.CreateSnapshot(Operation{
		Tool: "edit",
		Changes: []Change{{
			Path:       "app.py",
			OldContent: "print(99)\n",
			NewContent: "print(3)\n",
		}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrRejected))
	assert.True(t, errors.Is(err, common.ErrContinuity),
		"base content disagreed with the last tracked state")

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.NotEmpty(t, rejected.Result.UnknownChanges)
	assert.NotEmpty(t, rejected.Result.ContinuityViolations)

	assert.Equal(t, int64(2), tr.GetCacheStats().LastSequence)
}

func TestWarnProceedsWithWarnings(t *testing.T) {
	tr, ws := openTestTracker(t, &Config{Validation: "warn"})
	applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")

	writeFile(t, ws, "app.py", "print(99)\n")
	writeFile(t, ws, "app.py", "print(3)\n")
	res, err := tr.CreateSnapshot(Operation{
		Tool: "edit",
		Changes: []Change{{
			Path:       "app.py",
			OldContent: "print(99)\n",
			NewContent: "print(3)\n",
		}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SnapshotID)
	assert.NotEmpty(t, res.Warnings)
	assert.False(t, res.Validation.Valid)
	assert.Empty(t, res.IntegrationSnapshotID)
}

func TestAutoIntegrateRecordsCompensatingSnapshot(t *testing.T) {
	tr, ws := openTestTracker(t, &Config{Validation: "auto-integrate"})
	r1 := applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")

	writeFile(t, ws, "app.py", "print(99)\n")
	writeFile(t, ws, "app.py", "print(3)\n")
	res, err := tr.CreateSnapshot(Operation{
		Tool: "edit",
		Changes: []Change{{
			Path:       "app.py",
			OldContent: "print(99)\n",
			NewContent: "print(3)\n",
		}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.IntegrationSnapshotID)
	require.NotEmpty(t, res.SnapshotID)

	integration, err := tr.GetSnapshot(res.IntegrationSnapshotID)
	require.NoError(t, err)
	assert.True(t, integration.Metadata.Integration)
	assert.Equal(t, "auto-integrate", integration.Tool)
	assert.Equal(t, int64(2), integration.SequenceNumber)
	assert.Equal(t, r1.SnapshotID, integration.PreviousSnapshotID)

	main, err := tr.GetSnapshot(res.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), main.SequenceNumber)
	assert.Equal(t, res.IntegrationSnapshotID, main.PreviousSnapshotID)
}

func TestValidateFileStateBeforeSnapshot(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")
	writeFile(t, ws, "app.py", "print(2)\n")

	res, err := tr.ValidateFileStateBeforeSnapshot([]string{"app.py"}, ValidateOptions{Strategy: "strict"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, StrategyStrict, res.Strategy)
	assert.NotEmpty(t, res.UnknownChanges)

	_, err = tr.ValidateFileStateBeforeSnapshot([]string{"app.py"}, ValidateOptions{Strategy: "bogus"})
	require.Error(t, err)
}

func TestCreateSnapshotRequiresChanges(t *testing.T) {
	tr, _ := openTestTracker(t, nil)
	_, err := tr.CreateSnapshot(Operation{Tool: "edit"})
	require.Error(t, err)
}

func TestEditHistoryPagination(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	prev := ""
	for i := 0; i < 5; i++ {
		content := fmt.Sprintf("v%d\n", i)
		applyAndRecord(t, tr, ws, "app.py", prev, content)
		prev = content
	}

	page := tr.GetEditHistory(storage.QueryOptions{Limit: 3})
	require.Len(t, page.Entries, 3)
	assert.True(t, page.HasMore)

	rest := tr.GetEditHistory(storage.QueryOptions{Limit: 3, Cursor: page.NextCursor})
	assert.Len(t, rest.Entries, 2)
	assert.False(t, rest.HasMore)
}

func TestReadSnapshotDiff(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	res := applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")

	sd, err := tr.ReadSnapshotDiff(res.SnapshotID)
	require.NoError(t, err)
	assert.True(t, sd.Success)
	assert.Contains(t, sd.Diff, "+print(1)")
	assert.Equal(t, 1, sd.Summary.LinesAdded)

	_, err = tr.ReadSnapshotDiff("missing")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestMilestonesAreGapFreeByConstruction(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	for i := 1; i <= 3; i++ {
		applyAndRecord(t, tr, ws, fmt.Sprintf("f%d.txt", i), "", fmt.Sprintf("content %d\n", i))
	}

	m1, err := tr.CreateMilestoneByRange(MilestoneOptions{Title: "first batch"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), m1.StartSequenceNumber)
	assert.Equal(t, int64(3), m1.EndSequenceNumber)
	assert.Len(t, m1.SnapshotIDs, 3)
	assert.Empty(t, m1.PreviousMilestoneID)
	assert.Contains(t, m1.CombinedDiff, "f1.txt")
	assert.Contains(t, m1.CombinedDiff, "f3.txt")
	assert.Equal(t, 3, m1.Summary.OperationCount)

	// Nothing new yet: no range to consolidate.
	_, err = tr.CreateMilestoneByRange(MilestoneOptions{Title: "empty"})
	assert.True(t, errors.Is(err, common.ErrInvalidRange))

	for i := 4; i <= 5; i++ {
		applyAndRecord(t, tr, ws, fmt.Sprintf("f%d.txt", i), "", fmt.Sprintf("content %d\n", i))
	}
	m2, err := tr.CreateMilestoneByRange(MilestoneOptions{Title: "second batch"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), m2.StartSequenceNumber)
	assert.Equal(t, int64(5), m2.EndSequenceNumber)
	assert.Equal(t, m1.ID, m2.PreviousMilestoneID)

	list := tr.ListMilestones()
	require.Len(t, list, 2)
	assert.Equal(t, m1.ID, list[0].ID)

	got, err := tr.GetMilestone(m2.ID)
	require.NoError(t, err)
	assert.Equal(t, "second batch", got.Title)
}

func TestCreateMilestoneFromExplicitIDs(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	var ids []string
	for i := 1; i <= 3; i++ {
		res := applyAndRecord(t, tr, ws, fmt.Sprintf("f%d.txt", i), "", "x\n")
		ids = append(ids, res.SnapshotID)
	}

	// Skipping a sequence is refused.
	_, err := tr.CreateMilestone([]string{ids[0], ids[2]}, MilestoneOptions{Title: "gappy"})
	assert.True(t, errors.Is(err, common.ErrSequenceGap))

	// Starting past the required start is refused.
	_, err = tr.CreateMilestone([]string{ids[1], ids[2]}, MilestoneOptions{Title: "late start"})
	assert.True(t, errors.Is(err, common.ErrInvalidRange))

	m, err := tr.CreateMilestone(ids[:2], MilestoneOptions{Title: "first two"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.StartSequenceNumber)
	assert.Equal(t, int64(2), m.EndSequenceNumber)
}

func TestMilestoneRefusesGappedHistory(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	ws := t.TempDir()
	tr, err := Open(ws, WithConfig(cfg))
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		applyAndRecord(t, tr, ws, fmt.Sprintf("f%d.txt", i), "", "x\n")
	}
	require.NoError(t, tr.Close())

	// Doctor the durable index to lose sequence 2, simulating deleted history.
	indexPath := filepath.Join(common.SnapshotsDir(ws), "index.json")
	var idx struct {
		Entries []storage.IndexEntry `json:"entries"`
	}
	require.NoError(t, storage.ReadJSON(indexPath, &idx))
	var kept []storage.IndexEntry
	for _, e := range idx.Entries {
		if e.SequenceNumber != 2 {
			kept = append(kept, e)
		}
	}
	idx.Entries = kept
	require.NoError(t, storage.WriteJSONAtomic(indexPath, idx))

	reopened, err := Open(ws, WithConfig(cfg))
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.CreateMilestoneByRange(MilestoneOptions{Title: "over the gap"})
	assert.True(t, errors.Is(err, common.ErrSequenceGap))
}

func TestReverseOpRestoresPriorContent(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	applyAndRecord(t, tr, ws, "app.py", "", "print(1)\n")
	r2 := applyAndRecord(t, tr, ws, "app.py", "print(1)\n", "print(2)\n")

	dry, err := tr.ReverseOp(r2.SnapshotID, ReverseOptions{DryRun: true}, nil)
	require.NoError(t, err)
	assert.True(t, dry.Success)
	assert.Contains(t, dry.ReverseDiff, "+print(1)")
	data, err := os.ReadFile(filepath.Join(ws, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(2)\n", string(data), "dry run must not touch the file")

	res, err := tr.ReverseOp(r2.SnapshotID, ReverseOptions{}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ChangesApplied)
	require.NotEmpty(t, res.SnapshotID)

	data, err = os.ReadFile(filepath.Join(ws, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)\n", string(data))

	// The reversal itself extends the chain instead of rewriting it.
	snap, err := tr.GetSnapshot(res.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "reverse", snap.Tool)
	assert.Equal(t, int64(3), snap.SequenceNumber)
}

func TestReverseOpWithoutTrailingNewline(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	applyAndRecord(t, tr, ws, "app.py", "", "print(1)")
	r2 := applyAndRecord(t, tr, ws, "app.py", "print(1)", "print(2)")

	res, err := tr.ReverseOp(r2.SnapshotID, ReverseOptions{}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(ws, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(data),
		"restored file must not gain a trailing newline")
}

func TestCacheStatsAndCheckpointRetention(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	prev := ""
	for i := 0; i < 3; i++ {
		content := fmt.Sprintf("v%d\n", i)
		applyAndRecord(t, tr, ws, "app.py", prev, content)
		prev = content
	}

	stats := tr.GetCacheStats()
	assert.Equal(t, 3, stats.SnapshotCount)
	assert.Equal(t, int64(3), stats.LastSequence)
	assert.Equal(t, 1, stats.CheckpointCount, "default retention keeps only the latest checkpoint")
	assert.NotEmpty(t, stats.LatestCheckpointID)
	assert.Equal(t, 0, stats.MilestoneCount)
}

func TestKeepAllCheckpointsConfig(t *testing.T) {
	tr, ws := openTestTracker(t, &Config{KeepAllCheckpoints: true})
	prev := ""
	for i := 0; i < 3; i++ {
		content := fmt.Sprintf("v%d\n", i)
		applyAndRecord(t, tr, ws, "app.py", prev, content)
		prev = content
	}
	assert.Equal(t, 3, tr.GetCacheStats().CheckpointCount)
}

func TestFilterIgnoredFiles(t *testing.T) {
	tr, ws := openTestTracker(t, nil)

	got := tr.FilterIgnoredFiles([]string{"src/a.go", "debug.log", "package.json", ".git/config"})
	assert.Equal(t, []string{"src/a.go"}, got)

	writeFile(t, ws, common.IgnoreFileName, "*.go\n")
	tr.ReloadIgnoreRules()
	got = tr.FilterIgnoredFiles([]string{"src/a.go", "b.py"})
	assert.Equal(t, []string{"b.py"}, got)
}

func TestSecondOpenIsRefused(t *testing.T) {
	tr, ws := openTestTracker(t, nil)
	_ = tr

	cfg := &Config{}
	cfg.ApplyDefaults()
	_, err := Open(ws, WithConfig(cfg))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrWorkspaceBusy))
}
