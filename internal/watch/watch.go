// Package watch implements the Filesystem Watcher: it watches the sync
// directory tree for local edits to projected script files, debounces
// rapid successive writes on the same path, and suppresses the single
// next change on a path the projector itself just wrote (so the daemon's
// own writes never loop back out as outbound patches).
//
// The recursive-add-on-Create plus per-path debounce-map structure is
// grounded on other_examples' remembrances-mcp code watcher
// (internal/indexer/code_watcher.go), adapted from its ticker-driven
// debounce to a per-path timer since this watcher only ever needs one
// pending timer per path rather than a whole-tree sweep every 500ms.
package watch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc is invoked once per debounced local edit, with the absolute
// path of the changed file and its current content.
type ChangeFunc func(absPath string, body []byte)

// Watcher watches a directory tree and reports debounced file writes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	rootDir  string
	ext      map[string]bool
	debounce time.Duration
	onChange ChangeFunc

	mu        sync.Mutex
	timers    map[string]*time.Timer
	suppress  map[string]int // absPath -> remaining suppressed events
	closeOnce sync.Once
	closed    bool
	done      chan struct{}
}

// New creates a Watcher rooted at rootDir, recursively adding every
// existing subdirectory. extensions lists the file suffixes (e.g.
// ".luau", ".lua") that trigger onChange; every other file is ignored.
func New(rootDir string, extensions []string, debounce time.Duration, onChange ChangeFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: new fsnotify watcher: %w", err)
	}

	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[e] = true
	}

	w := &Watcher{
		fsw:      fsw,
		rootDir:  rootDir,
		ext:      extSet,
		debounce: debounce,
		onChange: onChange,
		timers:   make(map[string]*time.Timer),
		suppress: make(map[string]int),
		done:     make(chan struct{}),
	}

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch: mkdir %s: %w", rootDir, err)
	}
	if err := filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				log.Printf("watch: failed to watch %s: %v", path, err)
			}
		}
		return nil
	}); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch: walk %s: %w", rootDir, err)
	}

	go w.run()
	return w, nil
}

// SuppressNext arms a one-shot suppression on absPath: the next debounced
// change for that exact path (however many fsnotify events it merged) is
// swallowed without invoking onChange. Callers (the reconciler, just
// before the projector writes a file) call this immediately before the
// write so the echo is consumed regardless of scheduling order between the
// write and the watch goroutine.
func (w *Watcher) SuppressNext(absPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suppress[absPath]++
}

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

// Alive reports whether this watcher is still running. The reconciler
// uses this to decide whether a fullSnapshot needs to (re)start the
// watcher, per the spec's "if the watcher dies, the next full snapshot
// restarts it".
func (w *Watcher) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watch: error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(evt fsnotify.Event) {
	if evt.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(evt.Name); err != nil {
				log.Printf("watch: failed to watch new directory %s: %v", evt.Name, err)
			}
			return
		}
	}

	if !w.ext[filepath.Ext(evt.Name)] {
		return
	}
	if evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// A script file disappearing locally (user deleted it on disk) is
		// not a supported local operation per the spec's scope: the
		// daemon treats the tree, not the filesystem, as authoritative
		// for structural changes. Deliberately ignored.
		return
	}
	if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.scheduleDebounced(evt.Name)
}

func (w *Watcher) scheduleDebounced(absPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[absPath]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[absPath] = time.AfterFunc(w.debounce, func() {
		w.fire(absPath)
	})
}

func (w *Watcher) fire(absPath string) {
	w.mu.Lock()
	delete(w.timers, absPath)
	if n := w.suppress[absPath]; n > 0 {
		if n == 1 {
			delete(w.suppress, absPath)
		} else {
			w.suppress[absPath] = n - 1
		}
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	body, err := os.ReadFile(absPath)
	if err != nil {
		log.Printf("watch: read %s: %v", absPath, err)
		return
	}
	w.onChange(absPath, body)
}
