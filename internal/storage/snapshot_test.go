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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trackfs/internal/common"
)

func appendN(t *testing.T, s *SnapshotStore, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("src/f%d.go", i)
		id, err := s.Append(&Snapshot{
			Tool:             "edit",
			Diff:             fmt.Sprintf("--- a/%s\n+++ b/%s\n", path, path),
			BaseFileHashes:   map[string]string{path: "0000000000000000"},
			ResultFileHashes: map[string]string{path: fmt.Sprintf("%016d", i+1)},
			AffectedFiles:    []string{path},
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestAppendAssignsSequenceAndChain(t *testing.T) {
	s, err := OpenSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ids := appendN(t, s, 5)

	entries := s.Entries()
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.SequenceNumber != int64(i+1) {
			t.Errorf("entry %d: sequence = %d, want %d", i, e.SequenceNumber, i+1)
		}
		wantPrev := ""
		if i > 0 {
			wantPrev = ids[i-1]
		}
		if e.PreviousSnapshotID != wantPrev {
			t.Errorf("entry %d: previous = %q, want %q", i, e.PreviousSnapshotID, wantPrev)
		}
	}

	snap, err := s.Get(ids[2])
	if err != nil {
		t.Fatal(err)
	}
	if snap.SequenceNumber != 3 || snap.PreviousSnapshotID != ids[1] {
		t.Errorf("record round-trip lost chain fields: %+v", snap)
	}
}

func TestChainSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ids := appendN(t, s, 3)

	reopened, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Count() != 3 {
		t.Fatalf("reopened count = %d, want 3", reopened.Count())
	}
	id, err := reopened.Append(&Snapshot{Tool: "edit", AffectedFiles: []string{"x.go"}})
	if err != nil {
		t.Fatal(err)
	}
	snap, err := reopened.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.SequenceNumber != 4 || snap.PreviousSnapshotID != ids[2] {
		t.Errorf("chain did not continue across reopen: seq=%d prev=%s", snap.SequenceNumber, snap.PreviousSnapshotID)
	}
}

func TestCurrentHashColdCache(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(&Snapshot{
		Tool:             "write",
		ResultFileHashes: map[string]string{"app.py": "aaaabbbbccccdddd"},
		AffectedFiles:    []string{"app.py"},
	}); err != nil {
		t.Fatal(err)
	}

	// A fresh open only has the index; hashes must be recovered from records.
	reopened, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	h, ok := reopened.CurrentHash("app.py")
	if !ok || h != "aaaabbbbccccdddd" {
		t.Errorf("CurrentHash = %q, %v", h, ok)
	}
	if _, ok := reopened.CurrentHash("never-seen.txt"); ok {
		t.Error("unknown path should have no current hash")
	}
}

func TestQueryNewestFirstWithFilters(t *testing.T) {
	s, err := OpenSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		tool := "edit"
		if i%2 == 1 {
			tool = "write"
		}
		if _, err := s.Append(&Snapshot{
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			Tool:          tool,
			AffectedFiles: []string{fmt.Sprintf("f%d.go", i)},
		}); err != nil {
			t.Fatal(err)
		}
	}

	page := s.Query(QueryOptions{})
	if len(page.Entries) != 4 || page.HasMore {
		t.Fatalf("unfiltered query: %d entries, hasMore=%v", len(page.Entries), page.HasMore)
	}
	for i := 1; i < len(page.Entries); i++ {
		if page.Entries[i].Timestamp.After(page.Entries[i-1].Timestamp) {
			t.Error("entries not newest-first")
		}
	}

	byTool := s.Query(QueryOptions{Tool: "write"})
	if len(byTool.Entries) != 2 {
		t.Errorf("tool filter returned %d entries, want 2", len(byTool.Entries))
	}

	byFile := s.Query(QueryOptions{File: "f2.go"})
	if len(byFile.Entries) != 1 {
		t.Errorf("file filter returned %d entries, want 1", len(byFile.Entries))
	}

	first := s.Query(QueryOptions{Limit: 3})
	if len(first.Entries) != 3 || !first.HasMore || first.NextCursor == "" {
		t.Fatalf("paged query: %d entries, hasMore=%v", len(first.Entries), first.HasMore)
	}
	second := s.Query(QueryOptions{Limit: 3, Cursor: first.NextCursor})
	if len(second.Entries) != 1 || second.HasMore {
		t.Errorf("second page: %d entries, hasMore=%v", len(second.Entries), second.HasMore)
	}
}

func TestCorruptIndexFallsBackEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Count() != 0 {
		t.Errorf("corrupt index should yield empty cache, got %d entries", s.Count())
	}
	if s.Stats().CacheRebuilds != 1 {
		t.Errorf("expected 1 cache rebuild, got %d", s.Stats().CacheRebuilds)
	}

	// The store stays usable as a blank slate.
	if _, err := s.Append(&Snapshot{Tool: "edit"}); err != nil {
		t.Fatal(err)
	}
	if last, ok := s.LastEntry(); !ok || last.SequenceNumber != 1 {
		t.Errorf("append after corrupt index: %+v, %v", last, ok)
	}
}

func TestRangeBySeqDetectsGaps(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	appendN(t, s, 5)

	if _, err := s.RangeBySeq(1, 5); err != nil {
		t.Fatalf("contiguous range should validate: %v", err)
	}
	if _, err := s.RangeBySeq(0, 2); !errors.Is(err, common.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := s.RangeBySeq(6, 9); !errors.Is(err, common.ErrNoSnapshots) {
		t.Errorf("expected ErrNoSnapshots, got %v", err)
	}

	// Doctor the durable index: drop sequence 3 to simulate lost history.
	var idx snapshotIndexFile
	if err := ReadJSON(filepath.Join(dir, "index.json"), &idx); err != nil {
		t.Fatal(err)
	}
	var kept []IndexEntry
	for _, e := range idx.Entries {
		if e.SequenceNumber != 3 {
			kept = append(kept, e)
		}
	}
	if err := WriteJSONAtomic(filepath.Join(dir, "index.json"), snapshotIndexFile{Entries: kept}); err != nil {
		t.Fatal(err)
	}
	s.RebuildCache()

	if _, err := s.RangeBySeq(1, 5); !errors.Is(err, common.ErrSequenceGap) {
		t.Errorf("expected ErrSequenceGap, got %v", err)
	}
	if _, err := s.RangeBySeq(2, 2); err != nil {
		t.Errorf("single-entry range before the gap should validate: %v", err)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	old := time.Now().Add(-48 * time.Hour)
	if _, err := s.Append(&Snapshot{Timestamp: old, Tool: "edit", AffectedFiles: []string{"old.go"}}); err != nil {
		t.Fatal(err)
	}
	recentID, err := s.Append(&Snapshot{Tool: "edit", AffectedFiles: []string{"new.go"}})
	if err != nil {
		t.Fatal(err)
	}

	removed, err := s.CleanupOlderThan(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 || s.Count() != 1 {
		t.Errorf("removed=%d count=%d, want 1 and 1", removed, s.Count())
	}
	if _, err := s.Get(recentID); err != nil {
		t.Errorf("recent snapshot should survive cleanup: %v", err)
	}
}
