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
	"os"
	"path/filepath"

	"trackfs/internal/diff"
)

// WriteResult reports the outcome of a runtime write.
type WriteResult struct {
	Success bool
	Message string
}

// ApplyResult reports the outcome of applying a unified diff.
type ApplyResult struct {
	Success        bool
	Message        string
	ChangesApplied int
}

// ApplyOptions configure ApplyUnifiedDiff.
type ApplyOptions struct {
	BaseDir string
}

// Runtime is the external collaborator that owns actual filesystem
// mutation. The engine reads content only to hash and checkpoint; every
// patch application is delegated here.
type Runtime interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) WriteResult
	ApplyUnifiedDiff(diffText string, opts ApplyOptions) ApplyResult
}

// OSRuntime is the default Runtime backed by the local filesystem and the
// diff engine's section applier.
type OSRuntime struct {
	BaseDir string
}

func (r *OSRuntime) resolve(base, path string) string {
	if base == "" {
		base = r.BaseDir
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, filepath.FromSlash(path))
}

// ReadFile returns the content of path relative to the runtime base dir.
func (r *OSRuntime) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(r.resolve("", path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content to path, creating parent directories.
func (r *OSRuntime) WriteFile(path, content string) WriteResult {
	abs := r.resolve("", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return WriteResult{Message: fmt.Sprintf("create dir: %v", err)}
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return WriteResult{Message: err.Error()}
	}
	return WriteResult{Success: true, Message: "ok"}
}

// ApplyUnifiedDiff applies every parseable file section of diffText under
// the base directory. Opaque sections fail the application: silently
// skipping part of a patch would leave the tree in a state the caller
// cannot reason about.
func (r *OSRuntime) ApplyUnifiedDiff(diffText string, opts ApplyOptions) ApplyResult {
	sections := diff.ParseMultiFile(diffText)
	if len(sections) == 0 {
		return ApplyResult{Success: true, Message: "empty diff"}
	}

	applied := 0
	for _, s := range sections {
		if s.Opaque {
			return ApplyResult{ChangesApplied: applied, Message: "unparseable diff section"}
		}

		target := r.resolve(opts.BaseDir, s.Path)
		old := ""
		if !s.IsCreate() {
			data, err := os.ReadFile(target)
			if err != nil {
				return ApplyResult{ChangesApplied: applied,
					Message: fmt.Sprintf("read %s: %v", s.Path, err)}
			}
			old = string(data)
		}

		patched, err := diff.Apply(old, s)
		if err != nil {
			return ApplyResult{ChangesApplied: applied, Message: err.Error()}
		}

		if s.IsDelete() {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return ApplyResult{ChangesApplied: applied,
					Message: fmt.Sprintf("delete %s: %v", s.Path, err)}
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return ApplyResult{ChangesApplied: applied,
					Message: fmt.Sprintf("create dir for %s: %v", s.Path, err)}
			}
			if err := os.WriteFile(target, []byte(patched), 0644); err != nil {
				return ApplyResult{ChangesApplied: applied,
					Message: fmt.Sprintf("write %s: %v", s.Path, err)}
			}
		}
		applied++
	}
	return ApplyResult{Success: true, Message: "ok", ChangesApplied: applied}
}
