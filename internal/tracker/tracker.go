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

// Package tracker is the snapshot/checkpoint/diff integrity engine. It
// records each tracked edit as a hash-chained snapshot, detects and
// reconciles out-of-band filesystem changes, persists full-content
// checkpoints, and groups snapshots into gap-free milestones.
package tracker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"trackfs/internal/common"
	"trackfs/internal/diff"
	"trackfs/internal/hashutil"
	"trackfs/internal/ignore"
	"trackfs/internal/storage"
	"trackfs/internal/watcher"
)

// Change declares one file's before/after content in a tracked operation.
// Created marks a file that did not exist before; Deleted marks removal.
type Change struct {
	Path       string
	OldContent string
	NewContent string
	Created    bool
	Deleted    bool
}

// Operation describes one tracked edit as declared by the tool layer.
type Operation struct {
	Tool        string
	Description string
	Changes     []Change
}

// CreateResult reports a successful CreateSnapshot.
type CreateResult struct {
	SnapshotID string
	// IntegrationSnapshotID is set when auto-integrate synthesized a
	// compensating snapshot for out-of-band drift first.
	IntegrationSnapshotID string
	Warnings              []string
	Validation            *ValidationResult
}

// RejectedError carries the validation detail when a strict-mode operation
// is refused. It unwraps to common.ErrRejected, and additionally to
// common.ErrContinuity when the rejection involved a chain continuity
// violation.
type RejectedError struct {
	Result *ValidationResult
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("operation rejected: %d unknown change(s), %d continuity violation(s)",
		len(e.Result.UnknownChanges), len(e.Result.ContinuityViolations))
}

func (e *RejectedError) Unwrap() []error {
	errs := []error{common.ErrRejected}
	if len(e.Result.ContinuityViolations) > 0 {
		errs = append(errs, common.ErrContinuity)
	}
	return errs
}

// Tracker owns the stores and the validator for one workspace. At most one
// mutating operation may be in flight at a time; the internal mutex
// serializes them within this process and the workspace lock file keeps
// other processes out.
type Tracker struct {
	workspace string
	cfg       *Config

	matcher     *ignore.Matcher
	snapshots   *storage.SnapshotStore
	checkpoints *storage.CheckpointStore
	milestones  *storage.MilestoneStore
	validate    *validator
	runtime     Runtime
	watch       *watcher.Watcher
	lock        *flock.Flock

	mu sync.Mutex
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	runtime   Runtime
	cfg       *Config
	withWatch bool
}

// WithRuntime substitutes the filesystem collaborator (tests, sandboxes).
func WithRuntime(r Runtime) Option {
	return func(o *openOptions) { o.runtime = r }
}

// WithConfig bypasses the config file, mainly for tests.
func WithConfig(cfg *Config) Option {
	return func(o *openOptions) { o.cfg = cfg }
}

// WithWatcher starts a filesystem watcher that records out-of-band writes
// between tracked operations.
func WithWatcher() Option {
	return func(o *openOptions) { o.withWatch = true }
}

// Open initializes the engine for a workspace, acquiring the single-writer
// lock and loading the index caches.
func Open(workspace string, opts ...Option) (*Tracker, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		loaded, err := LoadConfig(workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	ConfigureLogging(cfg.Logging)

	snapshots, err := storage.OpenSnapshotStore(common.SnapshotsDir(workspace))
	if err != nil {
		return nil, err
	}
	checkpoints, err := storage.OpenCheckpointStore(workspace, common.CheckpointsDir(workspace), cfg.KeepAllCheckpoints)
	if err != nil {
		return nil, err
	}
	milestones, err := storage.OpenMilestoneStore(common.MilestonesDir(workspace))
	if err != nil {
		return nil, err
	}

	lock := flock.New(common.LockPath(workspace))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("workspace %s: %w", workspace, common.ErrWorkspaceBusy)
	}

	matcher := ignore.NewMatcher(workspace, ignore.Options{TrackJSON: cfg.TrackJSON})
	t := &Tracker{
		workspace:   workspace,
		cfg:         cfg,
		matcher:     matcher,
		snapshots:   snapshots,
		checkpoints: checkpoints,
		milestones:  milestones,
		runtime:     o.runtime,
		lock:        lock,
	}
	t.validate = &validator{
		workspace:   workspace,
		matcher:     matcher,
		snapshots:   snapshots,
		checkpoints: checkpoints,
	}
	if t.runtime == nil {
		t.runtime = &OSRuntime{BaseDir: workspace}
	}
	if o.withWatch {
		w, err := watcher.New(workspace, matcher)
		if err != nil {
			log.WithError(err).Warn("tracker: watcher unavailable, detection falls back to checkpoint paths")
		} else if err := w.Start(); err != nil {
			log.WithError(err).Warn("tracker: watcher failed to start")
		} else {
			t.watch = w
		}
	}
	return t, nil
}

// Close releases the workspace lock and stops the watcher.
func (t *Tracker) Close() error {
	if t.watch != nil {
		t.watch.Close()
	}
	return t.lock.Unlock()
}

// Workspace returns the tracked workspace root.
func (t *Tracker) Workspace() string { return t.workspace }

// CreateSnapshot validates continuity, records the operation as the next
// snapshot in the chain, and captures a fresh checkpoint.
func (t *Tracker) CreateSnapshot(op Operation) (*CreateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createSnapshotLocked(op, t.cfg.Strategy())
}

func (t *Tracker) createSnapshotLocked(op Operation, strategy Strategy) (*CreateResult, error) {
	start := time.Now()
	if len(op.Changes) == 0 {
		return nil, fmt.Errorf("operation declares no changes: %w", common.ErrInvalidPath)
	}

	declared := make([]string, 0, len(op.Changes))
	for i := range op.Changes {
		op.Changes[i].Path = common.NormalizePath(op.Changes[i].Path)
		declared = append(declared, op.Changes[i].Path)
	}
	tracked := t.matcher.Filter(declared)

	baseHashes := make(map[string]string, len(tracked))
	resultHashes := make(map[string]string, len(tracked))
	for _, c := range op.Changes {
		if t.matcher.IsIgnored(c.Path) {
			continue
		}
		if c.Created {
			baseHashes[c.Path] = hashutil.EmptyHash()
		} else {
			baseHashes[c.Path] = hashutil.HashText(c.OldContent)
		}
		if c.Deleted {
			resultHashes[c.Path] = hashutil.EmptyHash()
		} else {
			resultHashes[c.Path] = hashutil.HashText(c.NewContent)
		}
	}

	validation := t.runValidation(tracked, baseHashes, resultHashes, strategy)
	result := &CreateResult{Validation: validation}

	if !validation.Valid {
		switch strategy {
		case StrategyStrict:
			return nil, &RejectedError{Result: validation}
		case StrategyAutoIntegrate:
			result.Warnings = append(result.Warnings, validation.Warnings...)
			if len(validation.UnknownChanges) > 0 {
				id, err := t.appendIntegrationSnapshot(validation.UnknownChanges)
				if err != nil {
					return nil, err
				}
				result.IntegrationSnapshotID = id
			}
		default:
			result.Warnings = append(result.Warnings, validation.Warnings...)
		}
	}

	forward, stats := t.buildOperationDiff(op.Changes)
	rev := diff.Reverse(forward)
	if !rev.Success {
		log.WithField("reason", rev.Reason).Warn("tracker: reverse diff unavailable")
		result.Warnings = append(result.Warnings, "reverse diff unavailable: "+rev.Reason)
	}

	snap := &storage.Snapshot{
		Tool:             op.Tool,
		Description:      op.Description,
		Diff:             forward,
		BaseFileHashes:   baseHashes,
		ResultFileHashes: resultHashes,
		AffectedFiles:    declared,
		Metadata: storage.SnapshotMetadata{
			LinesAdded:   stats.added,
			LinesRemoved: stats.removed,
			FileCount:    len(declared),
			DurationMS:   time.Since(start).Milliseconds(),
		},
	}
	if rev.Success {
		snap.ReverseDiff = rev.Reversed
	}

	id, err := t.snapshots.Append(snap)
	if err != nil {
		return nil, err
	}
	result.SnapshotID = id

	t.captureCheckpoint(id, tracked)
	if t.watch != nil {
		t.watch.Ack(declared...)
	}
	return result, nil
}

// runValidation performs the continuity and unknown-change checks for the
// tracked paths of an operation. Drift that the declared operation itself
// explains (expectation matches the declared base and the live file matches
// the declared result) is not drift: the tool layer applied the edit before
// recording it.
func (t *Tracker) runValidation(tracked []string, baseHashes, resultHashes map[string]string, strategy Strategy) *ValidationResult {
	cpHashes := t.checkpoints.LatestHashes()
	drift := t.validate.detectDrift(tracked)
	if len(resultHashes) > 0 {
		kept := drift[:0]
		for _, c := range drift {
			if baseHashes[c.Path] == c.ExpectedHash && resultHashes[c.Path] == c.ActualHash {
				continue
			}
			kept = append(kept, c)
		}
		drift = kept
	}
	res := &ValidationResult{
		Valid:                true,
		Strategy:             strategy,
		UnknownChanges:       drift,
		ContinuityViolations: t.validate.checkContinuity(baseHashes, resultHashes, cpHashes),
	}
	if len(res.UnknownChanges) == 0 && len(res.ContinuityViolations) == 0 {
		return res
	}

	res.Valid = false
	for _, c := range res.UnknownChanges {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("unknown %s change on %s", c.ChangeType, c.Path))
	}
	for _, p := range res.ContinuityViolations {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("continuity violation on %s: base content does not match last tracked state", p))
	}
	return res
}

// appendIntegrationSnapshot records detected drift as a compensating
// snapshot so the chain stays truthful about what happened on disk.
func (t *Tracker) appendIntegrationSnapshot(changes []UnknownChange) (string, error) {
	base := make(map[string]string, len(changes))
	result := make(map[string]string, len(changes))
	affected := make([]string, 0, len(changes))
	var diffs []string
	for _, c := range changes {
		base[c.Path] = c.ExpectedHash
		result[c.Path] = c.ActualHash
		affected = append(affected, c.Path)
		if c.Diff != "" {
			diffs = append(diffs, c.Diff)
		}
	}

	merged := diff.Merge(diffs, diff.MergeOptions{})
	added, removed := diff.Stats(merged.Merged)
	snap := &storage.Snapshot{
		Tool:             "auto-integrate",
		Description:      fmt.Sprintf("integrated %d out-of-band change(s)", len(changes)),
		Diff:             merged.Merged,
		BaseFileHashes:   base,
		ResultFileHashes: result,
		AffectedFiles:    affected,
		Metadata: storage.SnapshotMetadata{
			LinesAdded:   added,
			LinesRemoved: removed,
			FileCount:    len(affected),
			Integration:  true,
		},
	}
	if rev := diff.Reverse(merged.Merged); rev.Success {
		snap.ReverseDiff = rev.Reversed
	}

	id, err := t.snapshots.Append(snap)
	if err != nil {
		return "", fmt.Errorf("append integration snapshot: %w", err)
	}
	t.captureCheckpoint(id, affected)
	log.WithFields(log.Fields{"id": id, "paths": len(affected)}).
		Info("tracker: integrated out-of-band changes")
	return id, nil
}

type diffStats struct{ added, removed int }

// buildOperationDiff joins per-change diffs into one multi-file diff.
func (t *Tracker) buildOperationDiff(changes []Change) (string, diffStats) {
	var parts []string
	var stats diffStats
	for _, c := range changes {
		oldPath, newPath := c.Path, c.Path
		if c.Created {
			oldPath = ""
		}
		if c.Deleted {
			newPath = ""
		}
		text, err := diff.Generate(c.OldContent, c.NewContent, oldPath, newPath)
		if err != nil {
			log.WithError(err).WithField("path", c.Path).Warn("tracker: diff generation failed")
			continue
		}
		if text == "" {
			continue
		}
		a, r := diff.Stats(text)
		stats.added += a
		stats.removed += r
		parts = append(parts, text)
	}
	return strings.Join(parts, ""), stats
}

// captureCheckpoint persists the post-operation content of every path the
// engine has ground truth for: the previous checkpoint's paths plus the
// paths this operation touched. Capture failure is non-fatal.
func (t *Tracker) captureCheckpoint(snapshotID string, tracked []string) {
	seen := make(map[string]struct{})
	var paths []string
	for _, p := range append(t.checkpoints.LatestPaths(), tracked...) {
		if _, dup := seen[p]; dup || t.matcher.IsIgnored(p) {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	if _, err := t.checkpoints.Capture(snapshotID, paths); err != nil {
		log.WithError(err).Warn("tracker: checkpoint capture failed")
	}
}

// SnapshotDiff is the read-path result for one snapshot's diff.
type SnapshotDiff struct {
	Success bool                     `json:"success"`
	Diff    string                   `json:"diff"`
	Summary storage.SnapshotMetadata `json:"summary"`
}

// ReadSnapshotDiff loads the forward diff and counters of a snapshot.
func (t *Tracker) ReadSnapshotDiff(id string) (*SnapshotDiff, error) {
	snap, err := t.snapshots.Get(id)
	if err != nil {
		return nil, err
	}
	return &SnapshotDiff{Success: true, Diff: snap.Diff, Summary: snap.Metadata}, nil
}

// GetEditHistory pages through the snapshot index, newest first.
func (t *Tracker) GetEditHistory(opts storage.QueryOptions) storage.QueryPage {
	return t.snapshots.Query(opts)
}

// GetSnapshot loads a full snapshot record.
func (t *Tracker) GetSnapshot(id string) (*storage.Snapshot, error) {
	return t.snapshots.Get(id)
}

// DetectionResult reports unknown-change detection over a path set.
type DetectionResult struct {
	HasUnknownChanges bool            `json:"has_unknown_changes"`
	Changes           []UnknownChange `json:"changes,omitempty"`
	CheckedPaths      int             `json:"checked_paths"`
}

// DetectUnknownModifications checks the given paths for drift the engine did
// not produce. With a nil path list it checks every path it has ground truth
// for, plus anything the watcher saw touched.
func (t *Tracker) DetectUnknownModifications(paths []string) *DetectionResult {
	if paths == nil {
		seen := make(map[string]struct{})
		for _, p := range t.checkpoints.LatestPaths() {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				paths = append(paths, p)
			}
		}
		if t.watch != nil {
			for _, p := range t.watch.Touched() {
				if _, dup := seen[p]; !dup {
					seen[p] = struct{}{}
					paths = append(paths, p)
				}
			}
		}
	} else {
		normalized := make([]string, 0, len(paths))
		for _, p := range paths {
			normalized = append(normalized, common.NormalizePath(p))
		}
		paths = normalized
	}

	tracked := t.matcher.Filter(paths)
	changes := t.validate.detectDrift(tracked)
	return &DetectionResult{
		HasUnknownChanges: len(changes) > 0,
		Changes:           changes,
		CheckedPaths:      len(tracked),
	}
}

// ValidateOptions configure ValidateFileStateBeforeSnapshot.
type ValidateOptions struct {
	Strategy string
}

// ValidateFileStateBeforeSnapshot runs the pre-operation validation for a
// path set without recording anything. Under strict the result carries
// Valid=false with the drift attached; other strategies surface warnings.
func (t *Tracker) ValidateFileStateBeforeSnapshot(paths []string, opts ValidateOptions) (*ValidationResult, error) {
	strategy := t.cfg.Strategy()
	if opts.Strategy != "" {
		parsed, err := ParseStrategy(opts.Strategy)
		if err != nil {
			return nil, err
		}
		strategy = parsed
	}

	tracked := t.matcher.Filter(paths)
	base := make(map[string]string, len(tracked))
	for _, p := range tracked {
		base[p] = t.validate.liveHash(p)
	}
	return t.runValidation(tracked, base, nil, strategy), nil
}

// FilterIgnoredFiles returns the subset of paths visible to the engine.
func (t *Tracker) FilterIgnoredFiles(paths []string) []string {
	return t.matcher.Filter(paths)
}

// ReloadIgnoreRules re-reads .snapshotignore without restarting.
func (t *Tracker) ReloadIgnoreRules() { t.matcher.Reload() }

// Stats aggregates cache statistics across the stores.
type Stats struct {
	storage.CacheStats
	MilestoneCount     int    `json:"milestone_count"`
	CheckpointCount    int    `json:"checkpoint_count"`
	LatestCheckpointID string `json:"latest_checkpoint_id,omitempty"`
}

// GetCacheStats reports index cache and retention state.
func (t *Tracker) GetCacheStats() Stats {
	return Stats{
		CacheStats:         t.snapshots.Stats(),
		MilestoneCount:     t.milestones.Count(),
		CheckpointCount:    t.checkpoints.Count(),
		LatestCheckpointID: t.checkpoints.LatestID(),
	}
}

// Cleanup deletes snapshots older than the cutoff.
func (t *Tracker) Cleanup(olderThan time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshots.CleanupOlderThan(olderThan)
}

// CleanupOldCheckpoints prunes checkpoints older than the cutoff, always
// retaining the newest.
func (t *Tracker) CleanupOldCheckpoints(olderThan time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkpoints.Prune(olderThan)
}
