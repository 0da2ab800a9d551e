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

package diff

import (
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Section is one per-file portion of a (possibly multi-file) unified diff.
// Opaque sections could not be parsed and retain only their raw text.
type Section struct {
	// OldPath and NewPath are the header paths as written (including a/, b/
	// prefixes or /dev/null).
	OldPath string
	NewPath string
	// Path is the canonical workspace-relative path the section refers to.
	Path string
	// File is the parsed section, nil when Opaque.
	File *godiff.FileDiff
	// Raw is the original text, retained for opaque blocks.
	Raw    string
	Opaque bool
}

// IsCreate reports whether the section creates a file.
func (s *Section) IsCreate() bool { return s.OldPath == DevNull }

// IsDelete reports whether the section deletes a file.
func (s *Section) IsDelete() bool { return s.NewPath == DevNull }

// ParseMultiFile splits unified diff text into ordered per-file sections.
// Sections that fail to parse are returned as opaque blocks rather than
// aborting the whole parse; a fully empty input yields no sections.
func ParseMultiFile(diffText string) []Section {
	if strings.TrimSpace(diffText) == "" {
		return nil
	}

	var sections []Section
	for _, block := range splitFileBlocks(diffText) {
		fd, err := godiff.ParseFileDiff([]byte(block))
		if err != nil || fd == nil {
			sections = append(sections, Section{Raw: block, Opaque: true})
			continue
		}
		sections = append(sections, sectionFor(fd, block))
	}
	return sections
}

func sectionFor(fd *godiff.FileDiff, raw string) Section {
	path := CanonicalPath(fd.NewName)
	if path == DevNull || path == "" {
		path = CanonicalPath(fd.OrigName)
	}
	return Section{
		OldPath: fd.OrigName,
		NewPath: fd.NewName,
		Path:    path,
		File:    fd,
		Raw:     raw,
	}
}

// splitFileBlocks cuts diff text at file-section boundaries. A section starts
// at a "diff " line or at a "--- " line immediately followed by a "+++" line.
// Text before the first boundary becomes its own (likely opaque) block.
func splitFileBlocks(text string) []string {
	lines := strings.Split(text, "\n")

	var blocks []string
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		block := strings.Join(current, "\n")
		if strings.TrimSpace(block) != "" {
			if !strings.HasSuffix(block, "\n") {
				block += "\n"
			}
			blocks = append(blocks, block)
		}
		current = nil
	}

	for i, line := range lines {
		starts := strings.HasPrefix(line, "diff ") ||
			(strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++"))
		if starts && len(current) > 0 && !headerOnly(current) {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

// headerOnly reports whether the accumulated lines are still just extended
// header lines (e.g. a "diff --git" line waiting for its --- / +++ pair).
func headerOnly(lines []string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, "@@") || strings.HasPrefix(l, "+++") {
			return false
		}
	}
	return true
}
