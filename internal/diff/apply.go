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
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

const noNewlineMarker = `\ No newline at end of file`

// Apply applies one parsed file section to content and returns the patched
// text. Context lines must match the input; a mismatch fails the whole
// application. Deletion sections return empty content.
func Apply(content string, s Section) (string, error) {
	if s.Opaque {
		return "", fmt.Errorf("apply %s: opaque section", s.Path)
	}
	if s.IsDelete() {
		return "", nil
	}

	lines, hadTrailingNL := splitForApply(content)
	var out []string
	cursor := 0 // index into lines, 0-based
	noTrailingNL := false

	for _, h := range s.File.Hunks {
		start := int(h.OrigStartLine) - 1
		if start < 0 {
			// "@@ -0,0" style creation hunk
			start = 0
		}
		if start < cursor || start > len(lines) {
			return "", fmt.Errorf("apply %s: hunk start %d out of range", s.Path, h.OrigStartLine)
		}
		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, body := range hunkBodyLines(h) {
			if strings.HasPrefix(body, `\`) {
				// The parser normally folds no-newline markers into the
				// hunk itself; a stray one carries no content.
				continue
			}
			marker, text := byte(' '), ""
			if body != "" {
				marker, text = body[0], body[1:]
			}
			switch marker {
			case ' ':
				if cursor >= len(lines) || lines[cursor] != text {
					return "", fmt.Errorf("apply %s: context mismatch at line %d", s.Path, cursor+1)
				}
				out = append(out, text)
				cursor++
			case '-':
				if cursor >= len(lines) || lines[cursor] != text {
					return "", fmt.Errorf("apply %s: removed line mismatch at line %d", s.Path, cursor+1)
				}
				cursor++
			case '+':
				out = append(out, text)
			default:
				return "", fmt.Errorf("apply %s: unknown line marker %q", s.Path, marker)
			}
		}

		// A hunk body without a trailing newline is the parsed form of a
		// "\ No newline at end of file" marker on the new side.
		if !strings.HasSuffix(string(h.Body), "\n") {
			noTrailingNL = true
		}
	}
	out = append(out, lines[cursor:]...)

	if len(out) == 0 {
		return "", nil
	}
	result := strings.Join(out, "\n")
	// The new side dictates the trailing newline when the diff reaches the
	// end of the input; an untouched tail keeps what the input had.
	if !noTrailingNL && (cursor == len(lines) || hadTrailingNL) {
		result += "\n"
	}
	return result, nil
}

func splitForApply(content string) (lines []string, trailingNL bool) {
	if content == "" {
		return nil, false
	}
	trailingNL = strings.HasSuffix(content, "\n")
	lines = strings.Split(content, "\n")
	if trailingNL {
		lines = lines[:len(lines)-1]
	}
	return lines, trailingNL
}

func hunkBodyLines(h *godiff.Hunk) []string {
	body := strings.Split(string(h.Body), "\n")
	if len(body) > 0 && body[len(body)-1] == "" {
		body = body[:len(body)-1]
	}
	return body
}
