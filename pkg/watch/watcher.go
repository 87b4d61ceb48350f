// Package watch re-runs an analysis when a trace directory changes.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tracelane/tracelane/pkg/parser"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors the trace files of one directory. Writes to either file
// are coalesced into a single OnChange call once they settle.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	files    map[string]*fileState
	mu       sync.Mutex
	debounce time.Duration
	timer    *time.Timer
	running  bool

	OnChange func(dir string) error
	OnError  func(path string, err error)
}

type fileState struct {
	lastModified time.Time
	size         int64
}

// NewWatcher creates a watcher for the trace directory dir.
func NewWatcher(dir string, debounce time.Duration) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absDir)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(absDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	w := &Watcher{
		watcher:  fsWatcher,
		dir:      absDir,
		files:    make(map[string]*fileState),
		debounce: debounce,
	}
	for _, name := range traceFiles() {
		path := filepath.Join(absDir, name)
		w.files[path] = statFile(path)
	}
	return w, nil
}

func traceFiles() []string {
	return []string{
		parser.MetricsFile, parser.MetricsFile + ".gz",
		parser.DescriptorsFile, parser.DescriptorsFile + ".gz",
	}
}

// statFile returns the current state of path; a missing file has a zero state.
func statFile(path string) *fileState {
	st := &fileState{}
	if info, err := os.Stat(path); err == nil {
		st.lastModified = info.ModTime()
		st.size = info.Size()
	}
	return st
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run starts the watch loop. Blocks until context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}

			w.mu.Lock()
			if _, watched := w.files[absPath]; watched {
				// Debounce rapid changes
				if w.timer != nil {
					w.timer.Stop()
				}
				w.timer = time.AfterFunc(w.debounce, w.handleChange)
			}
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError(w.dir, err)
			}
		}
	}
}

// changed refreshes the recorded file states and reports whether any differ.
func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	dirty := false
	for path, prev := range w.files {
		cur := statFile(path)
		if !cur.lastModified.Equal(prev.lastModified) || cur.size != prev.size {
			dirty = true
		}
		w.files[path] = cur
	}
	return dirty
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if !w.changed() {
		return // No actual change
	}

	if w.OnChange != nil {
		if err := w.OnChange(w.dir); err != nil && w.OnError != nil {
			w.OnError(w.dir, err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
