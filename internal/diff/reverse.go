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
	"bytes"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// ReverseResult reports the outcome of inverting a diff. Inversion failure
// is non-fatal to callers: a snapshot simply records no reverse diff.
type ReverseResult struct {
	Success  bool
	Reversed string
	Reason   string
}

// Reverse swaps add/remove markers and old/new header paths in every file
// section of diffText, producing a diff that undoes the original. It never
// panics on malformed input; unparseable text yields Success=false.
func Reverse(diffText string) ReverseResult {
	if strings.TrimSpace(diffText) == "" {
		return ReverseResult{Success: true, Reversed: ""}
	}

	sections := ParseMultiFile(diffText)
	if len(sections) == 0 {
		return ReverseResult{Reason: "no file sections found"}
	}

	reversed := make([]*godiff.FileDiff, 0, len(sections))
	for _, s := range sections {
		if s.Opaque {
			return ReverseResult{Reason: "unparseable file section"}
		}
		reversed = append(reversed, reverseFileDiff(s.File))
	}

	out, err := godiff.PrintMultiFileDiff(reversed)
	if err != nil {
		return ReverseResult{Reason: err.Error()}
	}
	return ReverseResult{Success: true, Reversed: string(out)}
}

func reverseFileDiff(fd *godiff.FileDiff) *godiff.FileDiff {
	out := &godiff.FileDiff{
		OrigName: swapHeaderPath(fd.NewName, "a/"),
		NewName:  swapHeaderPath(fd.OrigName, "b/"),
		OrigTime: fd.NewTime,
		NewTime:  fd.OrigTime,
	}
	for _, h := range fd.Hunks {
		out.Hunks = append(out.Hunks, reverseHunk(h))
	}
	return out
}

// swapHeaderPath rewrites a header path for the opposite side of the diff,
// preserving the /dev/null convention.
func swapHeaderPath(headerPath, prefix string) string {
	if headerPath == DevNull || headerPath == "" {
		return DevNull
	}
	return prefix + CanonicalPath(headerPath)
}

// revLine is one reversed body line plus the side, if any, whose file ends
// without a newline at that line.
type revLine struct {
	text       string
	origMarker bool
	newMarker  bool
}

// reverseHunk flips additions and deletions in a hunk and swaps its line
// ranges. Within each run of changes the flipped deletions are emitted before
// the flipped additions, so the reversed hunk stays in conventional order.
// No-newline markers switch sides with the lines they annotate: the parsed
// OrigNoNewlineAt offset becomes a missing trailing newline on the reversed
// body, and vice versa.
func reverseHunk(h *godiff.Hunk) *godiff.Hunk {
	body := string(h.Body)

	origIncomplete := -1
	if h.OrigNoNewlineAt > 0 {
		origIncomplete = strings.Count(body[:h.OrigNoNewlineAt], "\n") - 1
	}
	newIncomplete := !strings.HasSuffix(body, "\n")

	lines := strings.Split(body, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	last := len(lines) - 1

	var out, dels, adds []revLine
	flush := func() {
		out = append(out, dels...)
		out = append(out, adds...)
		dels, adds = nil, nil
	}
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+"):
			dels = append(dels, revLine{
				text:       "-" + line[1:],
				origMarker: newIncomplete && i == last,
			})
		case strings.HasPrefix(line, "-"):
			adds = append(adds, revLine{
				text:      "+" + line[1:],
				newMarker: i == origIncomplete,
			})
		default:
			flush()
			out = append(out, revLine{
				text:      line,
				newMarker: newIncomplete && i == last,
			})
		}
	}
	flush()

	rev := &godiff.Hunk{
		OrigStartLine: h.NewStartLine,
		OrigLines:     h.NewLines,
		NewStartLine:  h.OrigStartLine,
		NewLines:      h.OrigLines,
		Section:       h.Section,
	}
	var buf bytes.Buffer
	for i, l := range out {
		buf.WriteString(l.text)
		if l.newMarker && i == len(out)-1 {
			break
		}
		buf.WriteByte('\n')
		if l.origMarker {
			rev.OrigNoNewlineAt = int32(buf.Len())
		}
	}
	rev.Body = buf.Bytes()
	return rev
}
