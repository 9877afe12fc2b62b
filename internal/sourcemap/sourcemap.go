// Package sourcemap implements the Index Writer: it renders the Tree
// Store's current shape into the JSON sourcemap consumed by editor
// tooling and external file-aware extensions, and keeps that file on disk
// up to date as the tree changes.
//
// The atomic-write idiom (temp file in the same directory, then rename)
// is lifted from the teacher's internal/writeback/splice.go, which uses
// the same pattern to apply an in-place source edit without ever leaving
// a half-written file on disk.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lexsf/azul/internal/model"
)

// Entry is one node of the rendered sourcemap tree.
type Entry struct {
	Name      string   `json:"name"`
	ClassName string   `json:"className"`
	FilePaths []string `json:"filePaths,omitempty"`
	Children  []*Entry `json:"children,omitempty"`
}

// Writer renders a Store into the on-disk sourcemap and keeps it current.
// It holds no tree state of its own; every call re-derives what it needs
// from the Store and, for incremental updates, the projector's id->path
// mapping.
type Writer struct {
	outputPath string
}

// New creates a Writer targeting outputPath (overwritten on every call to
// Generate, Upsert or Prune).
func New(outputPath string) *Writer {
	return &Writer{outputPath: outputPath}
}

// OutputPath returns the path this writer renders to, for callers that
// need to read back what was written.
func (w *Writer) OutputPath() string { return w.outputPath }

// PathFor resolves a node's current projected file path(s); the
// reconciler supplies this via the projector's mapping since the sourcemap
// package has no dependency on internal/project.
type PathFor func(nodeID string) (string, bool)

// Generate performs a full regeneration of the sourcemap from the current
// state of store, writing it atomically to the writer's output path.
func (w *Writer) Generate(store *model.Store, pathFor PathFor) error {
	root := &Entry{Name: "Game", ClassName: "DataModel"}
	for _, n := range store.Roots() {
		root.Children = append(root.Children, buildEntry(store, n, pathFor))
	}
	sortEntries(root.Children)
	return w.write(root)
}

func buildEntry(store *model.Store, n *model.Node, pathFor PathFor) *Entry {
	e := &Entry{Name: n.Name, ClassName: n.Class}
	if n.IsScript() {
		if rel, ok := pathFor(n.ID); ok {
			e.FilePaths = []string{rel}
		}
	}
	children, err := store.Children(n.ID)
	if err == nil {
		for _, c := range children {
			e.Children = append(e.Children, buildEntry(store, c, pathFor))
		}
		sortEntries(e.Children)
	}
	return e
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// Upsert brings the sourcemap up to date after a single node insert/update
// by running a full Generate. It does not splice the node's entry into the
// existing file: nodeID is not consulted, and the whole tree is walked and
// rewritten on every call.
func (w *Writer) Upsert(store *model.Store, pathFor PathFor, nodeID string) error {
	// The forest's shape can change in ways (reparenting, rename of an
	// ancestor) that a single-node patch can't express as a local JSON
	// edit without re-walking from the node's root ancestor anyway, so
	// incremental upsert degrades to a full regeneration. This keeps the
	// file always representative of the in-memory tree at the cost of an
	// O(N) write per change; full regeneration on a typical project tree
	// (a few thousand nodes) is still sub-millisecond JSON work.
	_ = nodeID
	return w.Generate(store, pathFor)
}

// Prune removes a deleted node's entry by regenerating the whole map, for
// the same reason Upsert does: a subtree removal can shift ancestor
// FilePaths slices (container collapse/un-collapse) in ways a point edit
// can't express safely.
func (w *Writer) Prune(store *model.Store, pathFor PathFor, nodeID string) error {
	_ = nodeID
	return w.Generate(store, pathFor)
}

// write serializes root as indented JSON (2 spaces, trailing newline,
// forward-slash paths already guaranteed by callers) and writes it
// atomically: temp file in the same directory, then rename.
func (w *Writer) write(root *Entry) error {
	buf, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("sourcemap: marshal: %w", err)
	}
	buf = append(buf, '\n')

	dir := filepath.Dir(w.outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("sourcemap: mkdir %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".azul-sourcemap-*")
	if err != nil {
		return fmt.Errorf("sourcemap: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sourcemap: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("sourcemap: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("sourcemap: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, w.outputPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("sourcemap: rename temp to %s: %w", w.outputPath, err)
	}
	return nil
}
