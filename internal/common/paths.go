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

package common

import (
	"path/filepath"
	"strings"
)

// BookkeepingDir is the directory inside a workspace that holds all
// trackfs state. It is invisible to the integrity machinery.
const BookkeepingDir = ".trackfs"

// IgnoreFileName is the user-supplied ignore rules file at the workspace root.
const IgnoreFileName = ".snapshotignore"

// NormalizePath cleans and normalizes a workspace-relative path,
// removing leading/trailing slashes
func NormalizePath(path string) string {
	path = filepath.ToSlash(filepath.Clean(path))
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "." {
		return ""
	}
	return path
}

// IsBookkeepingPath reports whether a workspace-relative path is inside
// the trackfs bookkeeping directory.
func IsBookkeepingPath(path string) bool {
	path = NormalizePath(path)
	return path == BookkeepingDir || strings.HasPrefix(path, BookkeepingDir+"/")
}

// BookkeepingPath returns the absolute path of the bookkeeping directory.
func BookkeepingPath(workspace string) string {
	return filepath.Join(workspace, BookkeepingDir)
}

// SnapshotsDir returns the directory holding snapshot records and index.
func SnapshotsDir(workspace string) string {
	return filepath.Join(BookkeepingPath(workspace), "snapshots")
}

// MilestonesDir returns the directory holding milestone records and index.
func MilestonesDir(workspace string) string {
	return filepath.Join(BookkeepingPath(workspace), "milestones")
}

// CheckpointsDir returns the directory holding checkpoint content captures.
func CheckpointsDir(workspace string) string {
	return filepath.Join(BookkeepingPath(workspace), "checkpoints")
}

// ConfigPath returns the per-workspace config file path.
func ConfigPath(workspace string) string {
	return filepath.Join(BookkeepingPath(workspace), "config.yaml")
}

// LockPath returns the single-writer lock file path.
func LockPath(workspace string) string {
	return filepath.Join(BookkeepingPath(workspace), "workspace.lock")
}

// IgnoreFilePath returns the user ignore rules file path.
func IgnoreFilePath(workspace string) string {
	return filepath.Join(workspace, IgnoreFileName)
}
