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

package ignore

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"trackfs/internal/common"
)

func TestDefaultsAlwaysHideBookkeeping(t *testing.T) {
	m := NewMatcher(t.TempDir(), Options{})

	for _, p := range []string{
		common.BookkeepingDir + "/snapshots/index.json",
		".git/HEAD",
		"node_modules/pkg/index.js",
		"build/out.o",
		"debug.log",
	} {
		if !m.IsIgnored(p) {
			t.Errorf("expected %s to be ignored by defaults", p)
		}
	}
	for _, p := range []string{"src/main.go", "app.py", "README.md"} {
		if m.IsIgnored(p) {
			t.Errorf("did not expect %s to be ignored", p)
		}
	}
}

func TestJSONDefaultToggle(t *testing.T) {
	dir := t.TempDir()

	hidden := NewMatcher(dir, Options{})
	if !hidden.IsIgnored("package.json") {
		t.Error("*.json should be ignored by default")
	}

	tracked := NewMatcher(dir, Options{TrackJSON: true})
	if tracked.IsIgnored("package.json") {
		t.Error("track-json should make JSON files visible")
	}
	if !tracked.IsIgnored(common.BookkeepingDir + "/snapshots/index.json") {
		t.Error("bookkeeping dir must stay hidden even with track-json")
	}
}

func TestUserRulesFile(t *testing.T) {
	dir := t.TempDir()
	rules := "# generated artifacts\nsecrets/\n*.gen.go\n\n"
	if err := os.WriteFile(filepath.Join(dir, common.IgnoreFileName), []byte(rules), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewMatcher(dir, Options{})
	if !m.IsIgnored("secrets/key.pem") {
		t.Error("trailing-slash pattern should match everything beneath the directory")
	}
	if !m.IsIgnored("pkg/api.gen.go") {
		t.Error("basename pattern should match anywhere in the tree")
	}
	if m.IsIgnored("pkg/api.go") {
		t.Error("unmatched path should not be ignored")
	}
}

func TestReloadPicksUpNewRules(t *testing.T) {
	dir := t.TempDir()
	m := NewMatcher(dir, Options{})
	if m.IsIgnored("notes.txt") {
		t.Fatal("notes.txt unexpectedly ignored before reload")
	}

	if err := os.WriteFile(filepath.Join(dir, common.IgnoreFileName), []byte("notes.txt\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m.Reload()

	if !m.IsIgnored("notes.txt") {
		t.Error("reload did not pick up the new rule")
	}
}

func TestFilterIdempotent(t *testing.T) {
	m := NewMatcher(t.TempDir(), Options{})
	paths := []string{"src/a.go", "debug.log", "b.py", ".git/config", "data.json"}

	once := m.Filter(paths)
	twice := m.Filter(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("filter not idempotent: %v vs %v", once, twice)
	}
	if !reflect.DeepEqual(once, []string{"src/a.go", "b.py"}) {
		t.Errorf("unexpected filter result: %v", once)
	}
}
