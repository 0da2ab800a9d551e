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

// Outcome tags the quality of a merge result. Callers can make policy
// decisions on it, e.g. treat MergeOpaque as lower confidence.
type Outcome int

const (
	// MergeClean means every input parsed and no hunks collided.
	MergeClean Outcome = iota
	// MergeConflicted means all inputs parsed but some hunks on the same
	// file overlap; they are concatenated and the collisions recorded.
	MergeConflicted
	// MergeOpaque means at least one input could not be parsed and was
	// carried through as an opaque trailing block.
	MergeOpaque
)

// Conflict records a per-path problem encountered during a merge.
type Conflict struct {
	Path   string
	Reason string
}

// MergeResult is the tagged outcome of merging several diffs.
type MergeResult struct {
	Success      bool
	Outcome      Outcome
	Merged       string
	Conflicts    []Conflict
	OpaqueBlocks []string
}

// MergeOptions control conflict handling. The only implemented resolution is
// "concat": hunks for the same path are kept in input order.
type MergeOptions struct {
	ConflictResolution string
}

// Merge combines multiple unified diffs into one multi-file diff. Sections
// touching the same canonical path are folded into a single per-file section
// with one corrected header pair, because naive text concatenation produces
// multi-header sections that downstream patch tools reject. Unparseable
// inputs degrade to opaque trailing blocks instead of aborting the merge.
func Merge(diffTexts []string, opts MergeOptions) MergeResult {
	res := MergeResult{Success: true, Outcome: MergeClean}

	type group struct {
		path     string
		sections []Section
	}
	var order []string
	groups := make(map[string]*group)

	for _, text := range diffTexts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, s := range ParseMultiFile(text) {
			if s.Opaque {
				res.OpaqueBlocks = append(res.OpaqueBlocks, s.Raw)
				res.Conflicts = append(res.Conflicts, Conflict{Reason: "unparseable diff block"})
				continue
			}
			g, ok := groups[s.Path]
			if !ok {
				g = &group{path: s.Path}
				groups[s.Path] = g
				order = append(order, s.Path)
			}
			g.sections = append(g.sections, s)
		}
	}

	merged := make([]*godiff.FileDiff, 0, len(order))
	for _, path := range order {
		g := groups[path]
		fd, conflicts := foldSections(g.path, g.sections)
		merged = append(merged, fd)
		res.Conflicts = append(res.Conflicts, conflicts...)
	}

	var out strings.Builder
	if len(merged) > 0 {
		printed, err := godiff.PrintMultiFileDiff(merged)
		if err != nil {
			return MergeResult{Success: false, Outcome: MergeOpaque, Conflicts: res.Conflicts,
				OpaqueBlocks: res.OpaqueBlocks}
		}
		out.Write(printed)
	}
	for _, block := range res.OpaqueBlocks {
		if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
			out.WriteString("\n")
		}
		out.WriteString(block)
	}
	res.Merged = out.String()

	if len(res.OpaqueBlocks) > 0 {
		res.Outcome = MergeOpaque
	} else if len(res.Conflicts) > 0 {
		res.Outcome = MergeConflicted
	}
	return res
}

// foldSections merges all sections for one path into a single FileDiff with
// one header pair. The old header comes from the first section, the new
// header from the last, so creation and deletion survive folding.
func foldSections(path string, sections []Section) (*godiff.FileDiff, []Conflict) {
	first, last := sections[0], sections[len(sections)-1]
	fd := &godiff.FileDiff{
		OrigName: first.OldPath,
		NewName:  last.NewPath,
	}

	var conflicts []Conflict
	for i, s := range sections {
		if i > 0 && overlaps(sections[i-1].File, s.File) {
			conflicts = append(conflicts, Conflict{Path: path, Reason: "overlapping hunks"})
		}
		fd.Hunks = append(fd.Hunks, s.File.Hunks...)
	}
	return fd, conflicts
}

// overlaps reports whether any hunk original ranges of b intersect those of a.
func overlaps(a, b *godiff.FileDiff) bool {
	for _, ha := range a.Hunks {
		aStart, aEnd := ha.OrigStartLine, ha.OrigStartLine+ha.OrigLines-1
		for _, hb := range b.Hunks {
			bStart, bEnd := hb.OrigStartLine, hb.OrigStartLine+hb.OrigLines-1
			if aStart <= bEnd && bStart <= aEnd {
				return true
			}
		}
	}
	return false
}
