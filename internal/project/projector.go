// Package project implements the Filesystem Projector: it writes script
// source to its computed path under a mirror directory, deletes files, and
// prunes now-empty directories. It owns the identifier -> file-path
// mapping — the single source of truth for "where does this script live on
// disk right now".
//
// Writes go through a billy.Filesystem rather than raw os calls, the same
// abstraction the teacher's internal/nfsmount/graphfs.go uses to adapt its
// graph to go-nfs: here it lets the projector be exercised against an
// in-memory filesystem in tests without touching the real disk.
package project

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/lexsf/azul/internal/codec"
)

// NodeView is the minimal information the projector needs about a tree
// node to compute its path; it is independent of the model package so the
// projector has no import-time dependency on the Tree Store.
type NodeView struct {
	ID          string
	Class       string
	Name        string
	Path        []string // logical path, root-service first
	HasChildren bool     // true when this node has at least one child — triggers container collapse
}

// Projector maps script nodes to files under a base directory.
type Projector struct {
	mu      sync.Mutex
	fsys    billy.Filesystem
	baseDir string
	ext     string // ".lua" or ".luau"

	mapping map[string]string // node ID -> slash-separated path relative to baseDir
}

// New creates a Projector rooted at baseDir on the real filesystem.
func New(baseDir, ext string) *Projector {
	return &Projector{
		fsys:    osfs.New(baseDir),
		baseDir: baseDir,
		ext:     ext,
		mapping: make(map[string]string),
	}
}

// NewWithFS builds a Projector against an arbitrary billy.Filesystem,
// primarily for tests (billy/memfs).
func NewWithFS(fsys billy.Filesystem, ext string) *Projector {
	return &Projector{fsys: fsys, ext: ext, mapping: make(map[string]string)}
}

// relPath computes the slash-separated, sanitized on-disk path (relative
// to the base directory) for a script node, applying the container-
// collapse rule: a script node that itself has children must also exist
// as a directory (to hold them), so its own logical name would otherwise
// collide between "<name>.ext" (the file) and "<name>/" (the directory).
// The file is instead placed inside that directory as "init<suffix>.ext" —
// an "init" filename always denotes a script whose logical identity is
// its containing directory.
func (p *Projector) relPath(n NodeView) string {
	segments := make([]string, 0, len(n.Path))
	for _, seg := range n.Path {
		segments = append(segments, codec.SanitizeName(seg))
	}

	fileName := codec.EncodeFile(codec.EncodeInput{Class: n.Class, Name: n.Name, Collapse: n.HasChildren}, p.ext)

	if n.HasChildren {
		return strings.Join(append(segments, fileName), "/")
	}

	dir := segments[:len(segments)-1]
	return strings.Join(append(dir, fileName), "/")
}

// Write projects a script node's source to its computed path, creating
// intermediate directories as needed. It returns the path written
// (relative to the base directory) and whether that path differs from the
// node's previously mapped path.
func (p *Projector) Write(n NodeView, source string) (relPath string, changed bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rel := p.relPath(n)
	prev, hadPrev := p.mapping[n.ID]
	changed = !hadPrev || prev != rel

	dir := filepath.Dir(rel)
	if dir != "." {
		if err := p.fsys.MkdirAll(dir, 0o755); err != nil {
			return "", false, fmt.Errorf("project: mkdir %s: %w", dir, err)
		}
	}

	if err := util.WriteFile(p.fsys, rel, []byte(source), 0o644); err != nil {
		return "", false, fmt.Errorf("project: write %s: %w", rel, err)
	}

	p.mapping[n.ID] = rel

	// A reparent or rename leaves the node's old file behind under its
	// previous computed path; since relPath is a pure function of the
	// node's current identity, nothing else will ever write there again,
	// so it must be removed here rather than left for the next sweep
	// (which only removes now-empty directories, not stray files).
	if hadPrev && prev != rel {
		if err := p.fsys.Remove(prev); err != nil && !isNotExist(err) {
			return rel, changed, fmt.Errorf("project: remove stale %s: %w", prev, err)
		}
		_ = p.sweepUp(filepath.Dir(prev))
	}

	return rel, changed, nil
}

// Delete removes the mapped file for id, if any, then sweeps now-empty
// ancestor directories up to (not including) the base directory.
func (p *Projector) Delete(id string) error {
	p.mu.Lock()
	rel, ok := p.mapping[id]
	if ok {
		delete(p.mapping, id)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return p.deletePath(rel)
}

// DeletePath removes the file at relPath (relative to the base directory)
// and sweeps now-empty ancestor directories, without consulting or
// changing the id -> path mapping.
func (p *Projector) DeletePath(relPath string) error {
	return p.deletePath(relPath)
}

func (p *Projector) deletePath(rel string) error {
	if err := p.fsys.Remove(rel); err != nil && !isNotExist(err) {
		return fmt.Errorf("project: remove %s: %w", rel, err)
	}
	return p.sweepUp(filepath.Dir(rel))
}

// sweepUp walks upward from dir, removing any directory that is now
// empty, stopping at the base (dir == ".").
func (p *Projector) sweepUp(dir string) error {
	for dir != "." && dir != "/" && dir != "" {
		entries, err := p.fsys.ReadDir(dir)
		if err != nil {
			return nil // already gone, or unreadable — nothing more to sweep
		}
		if len(entries) > 0 {
			return nil
		}
		if err := p.fsys.Remove(dir); err != nil {
			return fmt.Errorf("project: rmdir %s: %w", dir, err)
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// Sweep walks the whole mirror tree and removes every empty directory.
// Called after a batch of reparents/deletes whose individual sweeps may
// have stopped short of a now-empty grandparent.
func (p *Projector) Sweep() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.sweepDir(".")
	return err
}

// sweepDir recursively removes empty subdirectories of dir and reports
// whether dir itself ended up empty (and was removed, unless it is ".").
func (p *Projector) sweepDir(dir string) (empty bool, err error) {
	entries, err := p.fsys.ReadDir(dir)
	if err != nil {
		return false, nil
	}
	remaining := 0
	for _, e := range entries {
		if !e.IsDir() {
			remaining++
			continue
		}
		sub := dir + "/" + e.Name()
		if dir == "." {
			sub = e.Name()
		}
		subEmpty, err := p.sweepDir(sub)
		if err != nil {
			return false, err
		}
		if !subEmpty {
			remaining++
		}
	}
	if remaining == 0 && dir != "." {
		if err := p.fsys.Remove(dir); err != nil {
			return false, fmt.Errorf("project: rmdir %s: %w", dir, err)
		}
		return true, nil
	}
	return remaining == 0, nil
}

// ReadFile reads the current contents of a path relative to the base
// directory, for callers (tests, diagnostics) that need to verify what was
// actually written.
func (p *Projector) ReadFile(relPath string) ([]byte, error) {
	f, err := p.fsys.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ReadDir lists the entries of a directory relative to the base directory.
func (p *Projector) ReadDir(relPath string) ([]os.FileInfo, error) {
	return p.fsys.ReadDir(relPath)
}

// PathFor returns the currently mapped relative path for id.
func (p *Projector) PathFor(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rel, ok := p.mapping[id]
	return rel, ok
}

// IDForPath reverse-looks-up the node ID mapped to a relative path, used
// by the reconciler's local-edit handler (watcher -> outbound patch).
func (p *Projector) IDForPath(relPath string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, rel := range p.mapping {
		if rel == relPath {
			return id, true
		}
	}
	return "", false
}

// AbsPath returns the absolute filesystem path for a relative mapping
// entry, for callers (the watcher) that need a real path to open.
func (p *Projector) AbsPath(relPath string) string {
	return filepath.Join(p.baseDir, filepath.FromSlash(relPath))
}

// RelPath converts an absolute path under the base directory back to the
// slash-separated relative form used by the mapping.
func (p *Projector) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(p.baseDir, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// SweepOrphans deletes every script file (.lua or .luau) under the base
// directory that is not present in live (the current identifier -> path
// mapping); files with any other extension are left alone. This is the
// opt-in, safety-gated orphan cleanup of §4.3 — callers must not invoke it
// unless the operator has explicitly enabled deleteOrphansOnConnect.
func (p *Projector) SweepOrphans() (removed []string, err error) {
	p.mu.Lock()
	live := make(map[string]struct{}, len(p.mapping))
	for _, rel := range p.mapping {
		live[rel] = struct{}{}
	}
	p.mu.Unlock()

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := p.fsys.ReadDir(dir)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			full := e.Name()
			if dir != "." {
				full = dir + "/" + e.Name()
			}
			if e.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			ext := filepath.Ext(full)
			if ext != ".lua" && ext != ".luau" {
				continue
			}
			if _, ok := live[full]; !ok {
				if err := p.fsys.Remove(full); err != nil {
					return err
				}
				removed = append(removed, full)
			}
		}
		return nil
	}
	if err := walk("."); err != nil {
		return removed, err
	}
	return removed, p.Sweep()
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file")
}
