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

// Package diff generates, parses, reverses, merges, and applies unified-diff
// text. Generation uses go-difflib; parsing and printing of file sections use
// sourcegraph/go-diff. All functions are multi-file aware and degrade
// gracefully on unparseable input.
package diff

import (
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"
)

// DevNull is the conventional header path for file creation and deletion.
const DevNull = "/dev/null"

// contextLines is the number of context lines in generated hunks.
const contextLines = 3

// Generate produces a unified diff for oldText -> newText. An empty oldPath
// marks file creation, an empty newPath marks deletion; otherwise headers
// carry the conventional a/ and b/ prefixes. Identical inputs produce an
// empty diff.
func Generate(oldText, newText, oldPath, newPath string) (string, error) {
	if oldText == newText && oldPath != "" && newPath != "" {
		return "", nil
	}

	from := DevNull
	if oldPath != "" {
		from = "a/" + strings.TrimPrefix(oldPath, "a/")
	}
	to := DevNull
	if newPath != "" {
		to = "b/" + strings.TrimPrefix(newPath, "b/")
	}

	u := difflib.UnifiedDiff{
		A:        splitLinesKeepNL(oldText),
		B:        splitLinesKeepNL(newText),
		FromFile: from,
		ToFile:   to,
		Context:  contextLines,
	}
	out, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(out, noEOLSentinel+"\n", "\n"+noNewlineMarker+"\n"), nil
}

// Stats counts added and removed lines in a unified diff, excluding the
// ---/+++ header lines.
func Stats(diffText string) (added, removed int) {
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

// noEOLSentinel tags a final line that lacks its newline before the lines go
// to difflib. A raw final line would fuse with the next emitted diff line,
// and a newline-terminated one would wrongly compare equal to its complete
// counterpart. Generate swaps the sentinel for the conventional
// "\ No newline at end of file" marker afterwards.
const noEOLSentinel = "\x00"

// splitLinesKeepNL splits s into lines, each keeping its trailing newline.
// A final line without one is sentinel-tagged and newline-terminated.
func splitLinesKeepNL(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	last := len(lines) - 1
	if lines[last] == "" {
		lines = lines[:last]
	} else {
		lines[last] += noEOLSentinel + "\n"
	}
	return lines
}

// CanonicalPath strips the conventional a/ or b/ prefix from a diff header
// path. DevNull is returned unchanged.
func CanonicalPath(headerPath string) string {
	if headerPath == DevNull || headerPath == "" {
		return headerPath
	}
	if strings.HasPrefix(headerPath, "a/") || strings.HasPrefix(headerPath, "b/") {
		return headerPath[2:]
	}
	return headerPath
}
