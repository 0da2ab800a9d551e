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

// Package watcher observes the workspace for writes the engine did not make
// itself. It only records which non-ignored paths were touched; classifying
// and diffing the drift stays with the validator.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"trackfs/internal/common"
	"trackfs/internal/ignore"
)

// Watcher accumulates workspace-relative paths touched since the last Ack.
type Watcher struct {
	workspace string
	matcher   *ignore.Matcher
	fsw       *fsnotify.Watcher
	done      chan struct{}

	mu      sync.Mutex
	touched map[string]struct{}
	started bool
	closed  bool
}

// New creates a watcher rooted at the workspace. Subdirectories are watched
// recursively; directories created later are picked up from their create
// events.
func New(workspace string, matcher *ignore.Matcher) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		workspace: workspace,
		matcher:   matcher,
		fsw:       fsw,
		done:      make(chan struct{}),
		touched:   make(map[string]struct{}),
	}
	if err := w.addRecursive(workspace); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.workspace, path)
		if relErr == nil && rel != "." && w.matcher.IsIgnored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			log.WithError(err).WithField("dir", path).Debug("watcher: cannot watch directory")
		}
		return nil
	})
}

// Start begins consuming events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Debug("watcher: event stream error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.workspace, event.Name)
	if err != nil {
		return
	}
	rel = common.NormalizePath(filepath.ToSlash(rel))
	if rel == "" || w.matcher.IsIgnored(rel) {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				log.WithError(err).WithField("dir", event.Name).Debug("watcher: add new directory")
			}
			return
		}
	}

	if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.mu.Lock()
		if !w.closed {
			w.touched[rel] = struct{}{}
		}
		w.mu.Unlock()
	}
}

// Touched returns the sorted set of paths seen modified since the last Ack.
func (w *Watcher) Touched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.touched))
	for p := range w.touched {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Ack marks paths as accounted for by a tracked operation.
func (w *Watcher) Ack(paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		delete(w.touched, common.NormalizePath(p))
	}
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.started {
		close(w.done)
	}
	return w.fsw.Close()
}
