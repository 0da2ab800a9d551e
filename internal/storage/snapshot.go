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
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trackfs/internal/common"
)

// Snapshot is an immutable record of one tracked file operation. It is
// created once, never mutated, and deleted only by age-based cleanup.
type Snapshot struct {
	ID                 string            `json:"id"`
	SequenceNumber     int64             `json:"sequence_number"`
	PreviousSnapshotID string            `json:"previous_snapshot_id,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
	Tool               string            `json:"tool"`
	Description        string            `json:"description,omitempty"`
	Diff               string            `json:"diff"`
	ReverseDiff        string            `json:"reverse_diff,omitempty"`
	BaseFileHashes     map[string]string `json:"base_file_hashes"`
	ResultFileHashes   map[string]string `json:"result_file_hashes"`
	AffectedFiles      []string          `json:"affected_files"`
	Metadata           SnapshotMetadata  `json:"metadata"`
}

// SnapshotMetadata carries free-form counters for audit.
type SnapshotMetadata struct {
	LinesAdded   int   `json:"lines_added"`
	LinesRemoved int   `json:"lines_removed"`
	FileCount    int   `json:"file_count"`
	DurationMS   int64 `json:"duration_ms,omitempty"`
	// Integration marks compensating snapshots synthesized for
	// out-of-band drift.
	Integration bool `json:"integration,omitempty"`
}

// IndexEntry is the lightweight projection of a snapshot kept in index.json
// and in the in-memory cache.
type IndexEntry struct {
	ID                 string    `json:"id"`
	SequenceNumber     int64     `json:"sequence_number"`
	Timestamp          time.Time `json:"timestamp"`
	Tool               string    `json:"tool"`
	AffectedFiles      []string  `json:"affected_files"`
	PreviousSnapshotID string    `json:"previous_snapshot_id,omitempty"`
	RecordPath         string    `json:"record_path"`
}

type snapshotIndexFile struct {
	Entries []IndexEntry `json:"entries"`
}

// SnapshotStore is the durable, hash-chained log of tracked operations plus
// its in-memory index cache. Sequence numbers and chain links are assigned
// by the store itself, never trusted from callers. Mutating calls must be
// serialized by the caller; reads are safe concurrently.
type SnapshotStore struct {
	dir string

	entries []IndexEntry   // ordered by sequence number
	byID    map[string]int // id -> index into entries

	// currentHashes carries forward each tracked path's last known result
	// hash. Owned privately; exposed only through CurrentHash.
	currentHashes map[string]string

	lastID   string
	lastSeq  int64
	rebuilds int
}

// OpenSnapshotStore loads the index cache from dir. A corrupt index falls
// back to an empty cache so the system stays usable as a blank slate.
func OpenSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshots dir: %w", err)
	}
	s := &SnapshotStore{dir: dir}
	s.loadIndex()
	return s, nil
}

func (s *SnapshotStore) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

func (s *SnapshotStore) loadIndex() {
	s.entries = nil
	s.byID = make(map[string]int)
	s.currentHashes = make(map[string]string)
	s.lastID = ""
	s.lastSeq = 0

	var idx snapshotIndexFile
	err := ReadJSON(s.indexPath(), &idx)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.WithError(err).Warn("snapshots: index unreadable, starting with empty cache")
		s.rebuilds++
		return
	}

	sort.SliceStable(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].SequenceNumber < idx.Entries[j].SequenceNumber
	})
	s.entries = idx.Entries
	for i, e := range s.entries {
		s.byID[e.ID] = i
	}
	if n := len(s.entries); n > 0 {
		s.lastID = s.entries[n-1].ID
		s.lastSeq = s.entries[n-1].SequenceNumber
	}
}

// RebuildCache re-derives the in-memory cache from the durable index.
func (s *SnapshotStore) RebuildCache() {
	s.loadIndex()
	s.rebuilds++
}

// Append assigns the next sequence number and chain link to snap, persists
// the full record, then updates the durable index and the cache, in that
// order. A crash between the two writes leaves an orphan record, never a
// cache entry pointing at a missing record.
func (s *SnapshotStore) Append(snap *Snapshot) (string, error) {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	snap.SequenceNumber = s.lastSeq + 1
	snap.PreviousSnapshotID = s.lastID

	recordRel := filepath.Join(
		snap.Timestamp.Format("2006"),
		snap.Timestamp.Format("01"),
		snap.Timestamp.Format("02"),
		fmt.Sprintf("%s_%s.json", snap.Timestamp.Format("150405"), snap.ID),
	)
	if err := WriteJSONAtomic(filepath.Join(s.dir, recordRel), snap); err != nil {
		return "", fmt.Errorf("write snapshot record: %w", err)
	}

	entry := IndexEntry{
		ID:                 snap.ID,
		SequenceNumber:     snap.SequenceNumber,
		Timestamp:          snap.Timestamp,
		Tool:               snap.Tool,
		AffectedFiles:      snap.AffectedFiles,
		PreviousSnapshotID: snap.PreviousSnapshotID,
		RecordPath:         filepath.ToSlash(recordRel),
	}
	entries := append(append([]IndexEntry(nil), s.entries...), entry)
	if err := WriteJSONAtomic(s.indexPath(), snapshotIndexFile{Entries: entries}); err != nil {
		return "", fmt.Errorf("write snapshot index: %w", err)
	}

	s.entries = entries
	s.byID[snap.ID] = len(s.entries) - 1
	s.lastID = snap.ID
	s.lastSeq = snap.SequenceNumber
	for path, hash := range snap.ResultFileHashes {
		s.currentHashes[path] = hash
	}

	log.WithFields(log.Fields{
		"id":   snap.ID,
		"seq":  snap.SequenceNumber,
		"tool": snap.Tool,
	}).Debug("snapshots: appended")
	return snap.ID, nil
}

// Get loads the full snapshot record for id.
func (s *SnapshotStore) Get(id string) (*Snapshot, error) {
	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", id, common.ErrNotFound)
	}
	return s.loadRecord(s.entries[i])
}

func (s *SnapshotStore) loadRecord(e IndexEntry) (*Snapshot, error) {
	var snap Snapshot
	if err := ReadJSON(filepath.Join(s.dir, filepath.FromSlash(e.RecordPath)), &snap); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot record %s: %w", e.ID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("load snapshot record %s: %w", e.ID, err)
	}
	return &snap, nil
}

// CurrentHash returns the expected hash for path, carried forward from the
// last snapshot whose result touched it. The second return is false when no
// tracked operation has recorded the path yet.
func (s *SnapshotStore) CurrentHash(path string) (string, bool) {
	if h, ok := s.currentHashes[path]; ok {
		return h, true
	}
	// Cold cache after restart: walk the index newest-first for the last
	// record that declared the path. No memoization here so that read
	// paths never mutate the cache concurrent readers rely on.
	for i := len(s.entries) - 1; i >= 0; i-- {
		if !containsPath(s.entries[i].AffectedFiles, path) {
			continue
		}
		snap, err := s.loadRecord(s.entries[i])
		if err != nil {
			log.WithError(err).WithField("id", s.entries[i].ID).
				Warn("snapshots: record unreadable during hash lookup")
			continue
		}
		if h, ok := snap.ResultFileHashes[path]; ok {
			return h, true
		}
	}
	return "", false
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}

// LastEntry returns the newest index entry.
func (s *SnapshotStore) LastEntry() (IndexEntry, bool) {
	if len(s.entries) == 0 {
		return IndexEntry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Entries returns a copy of the cached index, ordered by sequence number.
func (s *SnapshotStore) Entries() []IndexEntry {
	out := make([]IndexEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Count returns the number of indexed snapshots.
func (s *SnapshotStore) Count() int { return len(s.entries) }

// RangeBySeq returns the entries with sequence numbers in [start, end],
// verifying as it goes that the range is gap-free and the chain links hold.
func (s *SnapshotStore) RangeBySeq(start, end int64) ([]IndexEntry, error) {
	if start < 1 || end < start {
		return nil, fmt.Errorf("range %d..%d: %w", start, end, common.ErrInvalidRange)
	}

	var out []IndexEntry
	for _, e := range s.entries {
		if e.SequenceNumber >= start && e.SequenceNumber <= end {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("range %d..%d: %w", start, end, common.ErrNoSnapshots)
	}

	if out[0].SequenceNumber != start {
		return nil, fmt.Errorf("range starts at %d, expected %d: %w",
			out[0].SequenceNumber, start, common.ErrSequenceGap)
	}
	for i := 1; i < len(out); i++ {
		if out[i].SequenceNumber != out[i-1].SequenceNumber+1 {
			return nil, fmt.Errorf("missing sequence %d: %w",
				out[i-1].SequenceNumber+1, common.ErrSequenceGap)
		}
		if out[i].PreviousSnapshotID != out[i-1].ID {
			return nil, fmt.Errorf("snapshot %s parent mismatch at sequence %d: %w",
				out[i].ID, out[i].SequenceNumber, common.ErrChainCorrupt)
		}
	}
	if out[len(out)-1].SequenceNumber != end {
		return nil, fmt.Errorf("range ends at %d, expected %d: %w",
			out[len(out)-1].SequenceNumber, end, common.ErrSequenceGap)
	}
	return out, nil
}

// QueryOptions filter GetEditHistory-style lookups.
type QueryOptions struct {
	Since  *time.Time
	Until  *time.Time
	Tool   string
	File   string
	Limit  int
	Cursor string // ID of the last entry of the previous page
}

// QueryPage is one page of history results, newest first.
type QueryPage struct {
	Entries    []IndexEntry
	HasMore    bool
	NextCursor string
}

// Query serves history lookups entirely from the cache, newest first.
func (s *SnapshotStore) Query(opts QueryOptions) QueryPage {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	// Newest-first by timestamp, sequence as tiebreaker.
	ordered := s.Entries()
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.After(ordered[j].Timestamp)
		}
		return ordered[i].SequenceNumber > ordered[j].SequenceNumber
	})

	started := opts.Cursor == ""
	var page QueryPage
	for _, e := range ordered {
		if !started {
			if e.ID == opts.Cursor {
				started = true
			}
			continue
		}
		if opts.Since != nil && e.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.Timestamp.After(*opts.Until) {
			continue
		}
		if opts.Tool != "" && e.Tool != opts.Tool {
			continue
		}
		if opts.File != "" && !containsPath(e.AffectedFiles, opts.File) {
			continue
		}
		if len(page.Entries) == limit {
			page.HasMore = true
			page.NextCursor = page.Entries[limit-1].ID
			break
		}
		page.Entries = append(page.Entries, e)
	}
	return page
}

// CleanupOlderThan deletes snapshot records (and their index entries) older
// than the cutoff. Deleting history can leave sequence gaps; later milestone
// creation over such a range will report them.
func (s *SnapshotStore) CleanupOlderThan(cutoff time.Time) (int, error) {
	var kept []IndexEntry
	removed := 0
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(e.RecordPath))); err != nil && !os.IsNotExist(err) {
				log.WithError(err).WithField("id", e.ID).Warn("snapshots: failed to delete record")
			}
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := WriteJSONAtomic(s.indexPath(), snapshotIndexFile{Entries: kept}); err != nil {
		return removed, fmt.Errorf("rewrite snapshot index: %w", err)
	}
	s.entries = kept
	s.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		s.byID[e.ID] = i
	}
	return removed, nil
}

// CacheStats summarizes the in-memory index state.
type CacheStats struct {
	SnapshotCount  int    `json:"snapshot_count"`
	LastSequence   int64  `json:"last_sequence"`
	LastSnapshotID string `json:"last_snapshot_id,omitempty"`
	TrackedPaths   int    `json:"tracked_paths"`
	CacheRebuilds  int    `json:"cache_rebuilds"`
}

// Stats reports cache statistics.
func (s *SnapshotStore) Stats() CacheStats {
	return CacheStats{
		SnapshotCount:  len(s.entries),
		LastSequence:   s.lastSeq,
		LastSnapshotID: s.lastID,
		TrackedPaths:   len(s.currentHashes),
		CacheRebuilds:  s.rebuilds,
	}
}
