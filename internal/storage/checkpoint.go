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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trackfs/internal/common"
	"trackfs/internal/hashutil"
	"trackfs/internal/util"
)

// Checkpoint is a full-content capture of tracked files taken immediately
// after a snapshot. It is the only ground truth for what a file's content
// should be when proving an unknown change.
type Checkpoint struct {
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	SnapshotID string             `json:"snapshot_id"`
	Files      map[string]string  `json:"files"`
	Metadata   CheckpointMetadata `json:"metadata"`
}

// CheckpointMetadata records capture counters.
type CheckpointMetadata struct {
	FileCount  int   `json:"file_count"`
	TotalBytes int64 `json:"total_bytes"`
	CaptureMS  int64 `json:"capture_ms"`
}

// CheckpointStub is the lightweight metadata entry kept per checkpoint.
type CheckpointStub struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	SnapshotID string    `json:"snapshot_id"`
	FileCount  int       `json:"file_count"`
}

type checkpointMetaFile struct {
	LatestID    string           `json:"latest_id,omitempty"`
	Checkpoints []CheckpointStub `json:"checkpoints"`
}

// CheckpointStore persists full file contents at each tracked operation.
// By default only the newest checkpoint survives each capture; KeepAll
// trades disk space for a full rollback ladder.
type CheckpointStore struct {
	dir       string
	workspace string
	keepAll   bool

	meta   checkpointMetaFile
	latest *Checkpoint // cached newest capture
}

// OpenCheckpointStore loads checkpoint metadata for the workspace. Corrupt
// metadata degrades to an empty store rather than failing.
func OpenCheckpointStore(workspace, dir string, keepAll bool) (*CheckpointStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "latest"), 0755); err != nil {
		return nil, fmt.Errorf("create checkpoints dir: %w", err)
	}
	s := &CheckpointStore{dir: dir, workspace: workspace, keepAll: keepAll}
	if err := ReadJSON(s.metaPath(), &s.meta); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("checkpoints: metadata unreadable, starting empty")
		s.meta = checkpointMetaFile{}
	}
	return s, nil
}

func (s *CheckpointStore) metaPath() string {
	return filepath.Join(s.dir, "checkpoint-metadata.json")
}

func (s *CheckpointStore) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *CheckpointStore) latestPath() string {
	return filepath.Join(s.dir, "latest", "checkpoint.json")
}

// Capture reads the current content of each non-ignored path and persists it
// as a new checkpoint tied to snapshotID. Per-file read failures are logged
// and skipped; a partial checkpoint is still useful.
func (s *CheckpointStore) Capture(snapshotID string, paths []string) (string, error) {
	start := time.Now()
	cp := &Checkpoint{
		ID:         uuid.New().String(),
		Timestamp:  start,
		SnapshotID: snapshotID,
		Files:      make(map[string]string, len(paths)),
	}

	ctx := context.Background()
	for _, p := range paths {
		abs := filepath.Join(s.workspace, filepath.FromSlash(p))
		data, err := util.RetryWithResult(ctx, func() ([]byte, error) {
			return os.ReadFile(abs)
		}, util.TransientFSRetryOptions(ctx)...)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.WithError(err).WithField("path", p).Warn("checkpoints: skipping unreadable file")
			}
			continue
		}
		cp.Files[p] = string(data)
		cp.Metadata.TotalBytes += int64(len(data))
	}
	cp.Metadata.FileCount = len(cp.Files)
	cp.Metadata.CaptureMS = time.Since(start).Milliseconds()

	if err := WriteJSONAtomic(s.recordPath(cp.ID), cp); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	if err := WriteJSONAtomic(s.latestPath(), cp); err != nil {
		log.WithError(err).Warn("checkpoints: failed to mirror latest capture")
	}

	var stubs []CheckpointStub
	if s.keepAll {
		stubs = append(append([]CheckpointStub(nil), s.meta.Checkpoints...), s.stubFor(cp))
	} else {
		for _, old := range s.meta.Checkpoints {
			if err := os.Remove(s.recordPath(old.ID)); err != nil && !os.IsNotExist(err) {
				log.WithError(err).WithField("id", old.ID).Warn("checkpoints: failed to delete old capture")
			}
		}
		stubs = []CheckpointStub{s.stubFor(cp)}
	}

	meta := checkpointMetaFile{LatestID: cp.ID, Checkpoints: stubs}
	if err := WriteJSONAtomic(s.metaPath(), meta); err != nil {
		return "", fmt.Errorf("write checkpoint metadata: %w", err)
	}
	s.meta = meta
	s.latest = cp
	return cp.ID, nil
}

func (s *CheckpointStore) stubFor(cp *Checkpoint) CheckpointStub {
	return CheckpointStub{
		ID:         cp.ID,
		Timestamp:  cp.Timestamp,
		SnapshotID: cp.SnapshotID,
		FileCount:  cp.Metadata.FileCount,
	}
}

// Load returns the checkpoint with the given id, or the latest when id is
// empty. ErrNoCheckpoint is returned when nothing has been captured yet.
func (s *CheckpointStore) Load(id string) (*Checkpoint, error) {
	if id == "" {
		id = s.meta.LatestID
	}
	if id == "" {
		return nil, common.ErrNoCheckpoint
	}
	if s.latest != nil && s.latest.ID == id {
		return s.latest, nil
	}

	var cp Checkpoint
	if err := ReadJSON(s.recordPath(id), &cp); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checkpoint %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// LatestID returns the id of the newest checkpoint, empty if none.
func (s *CheckpointStore) LatestID() string { return s.meta.LatestID }

// LatestPaths returns the paths recorded in the newest checkpoint.
func (s *CheckpointStore) LatestPaths() []string {
	cp, err := s.Load("")
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(cp.Files))
	for p := range cp.Files {
		paths = append(paths, p)
	}
	return paths
}

// LatestHashes returns path -> content hash for the newest checkpoint.
func (s *CheckpointStore) LatestHashes() map[string]string {
	cp, err := s.Load("")
	if err != nil {
		return nil
	}
	hashes := make(map[string]string, len(cp.Files))
	for p, content := range cp.Files {
		hashes[p] = hashutil.HashText(content)
	}
	return hashes
}

// Count returns the number of retained checkpoints.
func (s *CheckpointStore) Count() int { return len(s.meta.Checkpoints) }

// Prune deletes checkpoints older than the cutoff. The newest capture is
// always retained: without it unknown changes could no longer be diffed.
func (s *CheckpointStore) Prune(cutoff time.Time) (int, error) {
	var kept []CheckpointStub
	removed := 0
	for _, stub := range s.meta.Checkpoints {
		if stub.ID != s.meta.LatestID && stub.Timestamp.Before(cutoff) {
			if err := os.Remove(s.recordPath(stub.ID)); err != nil && !os.IsNotExist(err) {
				log.WithError(err).WithField("id", stub.ID).Warn("checkpoints: failed to prune capture")
			}
			removed++
			continue
		}
		kept = append(kept, stub)
	}
	if removed == 0 {
		return 0, nil
	}
	meta := checkpointMetaFile{LatestID: s.meta.LatestID, Checkpoints: kept}
	if err := WriteJSONAtomic(s.metaPath(), meta); err != nil {
		return removed, fmt.Errorf("write checkpoint metadata: %w", err)
	}
	s.meta = meta
	return removed, nil
}
