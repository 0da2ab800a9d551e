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

package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"trackfs/internal/ignore"
)

// waitForTouched polls until the watcher reports path or the deadline passes.
func waitForTouched(t *testing.T, w *Watcher, path string) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range w.Touched() {
			if p == path {
				return true
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	ws := t.TempDir()
	w, err := New(ws, ignore.NewMatcher(ws, ignore.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w, ws
}

func TestWatcherRecordsWrites(t *testing.T) {
	w, ws := newTestWatcher(t)

	if err := os.WriteFile(filepath.Join(ws, "app.py"), []byte("x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitForTouched(t, w, "app.py") {
		t.Fatal("watcher never reported app.py")
	}
}

func TestWatcherSkipsIgnoredPaths(t *testing.T) {
	w, ws := newTestWatcher(t)

	if err := os.WriteFile(filepath.Join(ws, "debug.log"), []byte("x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "kept.txt"), []byte("x\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// kept.txt arriving proves the ignored event had time to arrive too.
	if !waitForTouched(t, w, "kept.txt") {
		t.Fatal("watcher never reported kept.txt")
	}
	for _, p := range w.Touched() {
		if p == "debug.log" {
			t.Error("ignored path was recorded")
		}
	}
}

func TestAckClearsTouched(t *testing.T) {
	w, ws := newTestWatcher(t)

	if err := os.WriteFile(filepath.Join(ws, "a.txt"), []byte("x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitForTouched(t, w, "a.txt") {
		t.Fatal("watcher never reported a.txt")
	}

	w.Ack("a.txt")
	for _, p := range w.Touched() {
		if p == "a.txt" {
			t.Error("ack did not clear the path")
		}
	}
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	w, ws := newTestWatcher(t)

	sub := filepath.Join(ws, "pkg")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	// Give the create event time to register the new directory.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "mod.go"), []byte("x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitForTouched(t, w, "pkg/mod.go") {
		t.Fatal("watcher never reported pkg/mod.go")
	}
}
