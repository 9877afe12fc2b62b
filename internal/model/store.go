// Package model implements the Tree Store: the canonical in-memory forest
// keyed by stable identifier, with secondary indexes by logical path and by
// parent. All mutation entry points take the store's lock and apply in one
// logical step, matching the single-threaded-from-the-reconciler's-
// point-of-view scheduling model the daemon relies on.
package model

import (
	"errors"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/lexsf/azul/api"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("model: node not found")

// RootID is the identifier of the synthetic root ("Game"/DataModel) node.
// Root nodes (path length 1, e.g. services) attach directly below it.
const RootID = "\x00root"

// Node is a tree node. Children is ordered; duplicate logical names among
// siblings are permitted (disambiguated by ID, never by name).
type Node struct {
	ID       string
	Class    string
	Name     string
	Path     []string
	Source   *string
	ParentID string
	Children []string
}

// IsScript reports whether this node's class carries a source body.
func (n *Node) IsScript() bool { return api.IsScriptClass(n.Class) }

// pathKey builds the secondary-index key for a logical path. Names are
// joined on a NUL byte since NUL cannot appear in a valid node name read
// from JSON text.
func pathKey(path []string) string { return strings.Join(path, "\x00") }

// Store is the Tree Store. Every exported mutator is safe for concurrent
// callers, though the daemon's event loop only ever calls it from the
// reconciler's single logical thread of execution (see design notes on
// concurrency).
type Store struct {
	mu sync.RWMutex

	nodes  map[string]*Node
	byPath map[string]string // pathKey -> id

	// Roaring-bitmap index over script-class nodes, mirroring the
	// teacher's fileToNodes/nodeIntID/intToNodeID trio: IDs are opaque
	// hex strings, not small ints, so we maintain an int<->string
	// mapping alongside the bitmap. This keeps AllScripts (full-snapshot
	// projection) from linear-scanning the whole forest to find every
	// script node.
	scriptBits  *roaring.Bitmap
	nodeIntID   map[string]uint32
	intToNodeID []string
	nextIntID   uint32
}

// New creates an empty Tree Store with the synthetic root already present.
func New() *Store {
	s := &Store{
		nodes:      make(map[string]*Node),
		byPath:     make(map[string]string),
		scriptBits: roaring.New(),
		nodeIntID:  make(map[string]uint32),
	}
	s.nodes[RootID] = &Node{ID: RootID, Class: api.ClassDataModel, Name: "Game", Path: nil}
	s.byPath[pathKey(nil)] = RootID
	return s
}

func (s *Store) intern(id string) uint32 {
	if i, ok := s.nodeIntID[id]; ok {
		return i
	}
	i := s.nextIntID
	s.nextIntID++
	s.nodeIntID[id] = i
	for uint32(len(s.intToNodeID)) <= i {
		s.intToNodeID = append(s.intToNodeID, "")
	}
	s.intToNodeID[i] = id
	return i
}

func (s *Store) indexScript(n *Node) {
	if !n.IsScript() {
		return
	}
	s.scriptBits.Add(s.intern(n.ID))
}

func (s *Store) unindexScript(id string) {
	if i, ok := s.nodeIntID[id]; ok {
		s.scriptBits.Remove(i)
	}
}

// GetNode returns a copy-free pointer to the node. Callers must not mutate
// the returned node directly; go through the store's mutators.
func (s *Store) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

// FindByPath is the O(1) secondary-index lookup required by the spec: full
// snapshots and push builds are O(N) and must not degrade into O(N^2)
// linear scans.
func (s *Store) FindByPath(path []string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPath[pathKey(path)]
	if !ok {
		return nil, false
	}
	return s.nodes[id], true
}

// childrenOf returns the children slice of a node, or nil if id is unknown.
// Caller must hold s.mu.
func (s *Store) childrenOf(id string) []string {
	if n, ok := s.nodes[id]; ok {
		return n.Children
	}
	return nil
}

// detach removes childID from its parent's Children slice. Caller must
// hold s.mu.
func (s *Store) detach(childID, parentID string) {
	p, ok := s.nodes[parentID]
	if !ok {
		return
	}
	out := p.Children[:0]
	for _, c := range p.Children {
		if c != childID {
			out = append(out, c)
		}
	}
	p.Children = out
}

// attach appends childID to parentID's Children slice. Caller must hold
// s.mu.
func (s *Store) attach(childID, parentID string) {
	p, ok := s.nodes[parentID]
	if !ok {
		return
	}
	for _, c := range p.Children {
		if c == childID {
			return
		}
	}
	p.Children = append(p.Children, childID)
}

// findParent locates the existing node whose path is the prefix of path
// dropping the last element. Caller must hold s.mu (read or write).
func (s *Store) findParent(path []string) (*Node, bool) {
	if len(path) == 0 {
		return nil, false
	}
	parentPath := path[:len(path)-1]
	id, ok := s.byPath[pathKey(parentPath)]
	if !ok {
		return nil, false
	}
	return s.nodes[id], true
}
