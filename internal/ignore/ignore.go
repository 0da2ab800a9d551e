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

// Package ignore decides which workspace paths are ever visible to the
// integrity machinery. Patterns follow gitignore semantics: a pattern
// without a slash matches the basename anywhere in the tree, a trailing
// slash matches a directory and everything beneath it, * and ** wildcards
// are supported.
package ignore

import (
	"os"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"

	"trackfs/internal/common"
)

// Options control which built-in defaults apply.
type Options struct {
	// TrackJSON removes the default "*.json" pattern so hand-edited JSON
	// config files stay visible to the integrity engine. The default list
	// hides all JSON because spawned scripts commonly generate it.
	TrackJSON bool
}

// defaultPatterns cover the bookkeeping directory, VCS metadata, build
// output, editor litter, and extensions that are usually generated data.
func defaultPatterns(opts Options) []string {
	patterns := []string{
		common.BookkeepingDir + "/",
		".git/",
		".svn/",
		".hg/",
		"node_modules/",
		"vendor/",
		"dist/",
		"build/",
		"target/",
		"__pycache__/",
		".idea/",
		".vscode/",
		".DS_Store",
		"*.pyc",
		"*.o",
		"*.log",
		"*.tmp",
		"*.swp",
		"*.csv",
		"*.sqlite",
		"*.db",
	}
	if !opts.TrackJSON {
		patterns = append(patterns, "*.json")
	}
	return patterns
}

// Matcher filters paths through the configured ignore rules. It is safe for
// concurrent use and reloadable without restarting the process.
type Matcher struct {
	workspace string
	opts      Options

	mu       sync.RWMutex
	patterns []string
	matcher  *gitignore.GitIgnore
}

// NewMatcher builds a matcher from the built-in defaults plus the rules in
// <workspace>/.snapshotignore. A missing or unreadable rules file falls back
// to defaults rather than erroring.
func NewMatcher(workspace string, opts Options) *Matcher {
	m := &Matcher{workspace: workspace, opts: opts}
	m.Reload()
	return m
}

// Reload re-reads the user rules file and recompiles the matcher.
func (m *Matcher) Reload() {
	patterns := defaultPatterns(m.opts)

	data, err := os.ReadFile(common.IgnoreFilePath(m.workspace))
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
	} else if !os.IsNotExist(err) {
		log.WithError(err).Warn("ignore: failed to read rules file, using defaults")
	}

	compiled := gitignore.CompileIgnoreLines(patterns...)

	m.mu.Lock()
	m.patterns = patterns
	m.matcher = compiled
	m.mu.Unlock()
}

// IsIgnored reports whether a workspace-relative path is excluded from
// hashing, checkpointing, and validation. The bookkeeping directory is
// always excluded regardless of configured rules.
func (m *Matcher) IsIgnored(path string) bool {
	rel := common.NormalizePath(path)
	if rel == "" {
		return true
	}
	if common.IsBookkeepingPath(rel) {
		return true
	}

	m.mu.RLock()
	matcher := m.matcher
	m.mu.RUnlock()

	return matcher.MatchesPath(rel)
}

// Filter returns the subset of paths that are not ignored. Order is
// preserved and the operation is idempotent.
func (m *Matcher) Filter(paths []string) []string {
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if !m.IsIgnored(p) {
			kept = append(kept, p)
		}
	}
	return kept
}

// Patterns returns a copy of the currently active pattern list.
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}
