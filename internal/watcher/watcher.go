//  Copyright 2024 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package watcher invalidates an account cache when the files backing the
// account database change.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/GoogleCloudPlatform/galog"
	"github.com/fsnotify/fsnotify"
)

// DefaultFiles are the files watched when none is given.
var DefaultFiles = []string{"/etc/passwd", "/etc/group"}

// Invalidator is implemented by caches that can be flushed.
type Invalidator interface {
	InvalidateAll()
}

// Watcher watches a set of files and invalidates its target whenever one of
// them is created, written, renamed or removed.
type Watcher struct {
	// target is flushed on every relevant event.
	target Invalidator
	// files are the cleaned absolute paths of the watched files.
	files []string
	// fsw is the underlying fsnotify watcher, it watches the parent
	// directories so atomic replacements (write to a temp file and rename) are
	// seen as well.
	fsw *fsnotify.Watcher

	// closeOnce guards fsw.Close.
	closeOnce sync.Once
}

// New creates a watcher for files. Nothing is delivered until Run is called.
func New(target Invalidator, files ...string) (*Watcher, error) {
	if len(files) == 0 {
		files = DefaultFiles
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{target: target, fsw: fsw}
	var dirs []string
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to resolve %q: %w", f, err)
		}
		w.files = append(w.files, abs)
		if dir := filepath.Dir(abs); !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}

	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		galog.V(2).Debugf("Watching %q for account database changes", dir)
	}

	return w, nil
}

// Files returns the watched files.
func (w *Watcher) Files() []string {
	return slices.Clone(w.files)
}

// Run delivers events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			// Overflows lose events, flush to stay on the safe side.
			galog.Warnf("Account database watcher error: %v", err)
			w.target.InvalidateAll()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !slices.Contains(w.files, filepath.Clean(ev.Name)) {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return
	}
	galog.V(1).Debugf("Account database file %q changed (%s), invalidating cache", ev.Name, ev.Op)
	w.target.InvalidateAll()
}

// Close stops watching. It's safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
	})
	return err
}
