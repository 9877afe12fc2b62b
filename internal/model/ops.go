package model

import "github.com/lexsf/azul/api"

// SnapshotResult reports entries the apply had to drop for lack of a
// resolvable parent, so the caller can log a tree-integrity warning per
// spec.
type SnapshotResult struct {
	Applied int
	Dropped []string // entry IDs
}

// ApplyFullSnapshot replaces the entire forest. It builds nodes in two
// passes: first every node is created (indexed by ID), then each is
// attached to its parent by matching the prefix of its logical path
// against an existing node's path. An entry whose parent cannot be
// resolved is logged by the caller (via Dropped) and left out of the tree.
func (s *Store) ApplyFullSnapshot(entries []api.Entry) SnapshotResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]*Node)
	s.byPath = make(map[string]string)
	s.scriptBits.Clear()
	s.nodeIntID = make(map[string]uint32)
	s.intToNodeID = s.intToNodeID[:0]
	s.nextIntID = 0

	root := &Node{ID: RootID, Class: api.ClassDataModel, Name: "Game"}
	s.nodes[RootID] = root
	s.byPath[pathKey(nil)] = RootID

	// Pass 1: create every node, unattached.
	for _, e := range entries {
		n := &Node{
			ID:     e.ID,
			Class:  e.ClassName,
			Name:   e.Name,
			Path:   append([]string(nil), e.Path...),
			Source: e.Source,
		}
		s.nodes[n.ID] = n
		s.byPath[pathKey(n.Path)] = n.ID
		s.indexScript(n)
	}

	// Pass 2: attach by prefix-matching the parent path.
	result := SnapshotResult{}
	for _, e := range entries {
		n := s.nodes[e.ID]
		parent, ok := s.findParent(n.Path)
		if !ok {
			result.Dropped = append(result.Dropped, e.ID)
			continue
		}
		n.ParentID = parent.ID
		s.attach(n.ID, parent.ID)
		result.Applied++
	}
	return result
}

// UpdateResult reports how UpdateInstance changed the tree, driving the
// reconciler's "which descendants need a rewrite" decision.
type UpdateResult struct {
	Node        *Node
	IsNew       bool
	PrevPath    []string
	PathChanged bool
	NameChanged bool
	Orphaned    bool
}

// UpdateInstance upserts a node by identifier. If the identifier already
// exists, name/class/path/source are replaced in place; if the path or
// name changed, the node is reparented (detached from its old parent and
// attached under the new one). A missing new parent orphans the node
// rather than erroring — it may be reattached by a later update.
func (s *Store) UpdateInstance(e api.Entry) UpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	newPath := append([]string(nil), e.Path...)

	existing, exists := s.nodes[e.ID]
	if !exists {
		n := &Node{ID: e.ID, Class: e.ClassName, Name: e.Name, Path: newPath, Source: e.Source}
		s.nodes[n.ID] = n
		s.byPath[pathKey(n.Path)] = n.ID
		s.indexScript(n)

		parent, ok := s.findParent(newPath)
		res := UpdateResult{Node: n, IsNew: true, PathChanged: true, NameChanged: true}
		if !ok {
			res.Orphaned = true
			return res
		}
		n.ParentID = parent.ID
		s.attach(n.ID, parent.ID)
		return res
	}

	prevPath := append([]string(nil), existing.Path...)
	pathChanged := pathKey(prevPath) != pathKey(newPath)
	nameChanged := existing.Name != e.Name

	wasScript := existing.IsScript()
	existing.Class = e.ClassName
	existing.Name = e.Name
	existing.Source = e.Source
	if wasScript && !existing.IsScript() {
		s.unindexScript(existing.ID)
	} else if !wasScript && existing.IsScript() {
		s.indexScript(existing)
	}

	res := UpdateResult{Node: existing, PrevPath: prevPath, PathChanged: pathChanged, NameChanged: nameChanged}

	if !pathChanged {
		return res
	}

	delete(s.byPath, pathKey(prevPath))
	existing.Path = newPath
	s.byPath[pathKey(newPath)] = existing.ID

	if existing.ParentID != "" {
		s.detach(existing.ID, existing.ParentID)
	}

	parent, ok := s.findParent(newPath)
	if !ok {
		existing.ParentID = ""
		res.Orphaned = true
		return res
	}
	existing.ParentID = parent.ID
	s.attach(existing.ID, parent.ID)
	s.reprefixDescendants(existing, prevPath, newPath)
	return res
}

// reprefixDescendants rewrites the Path of every descendant of n, replacing
// the old path prefix with the new one, after n itself has been reparented
// or renamed. Without this a rename would leave every descendant pointing
// at a now-nonexistent path, and the projector would never move their
// files.
func (s *Store) reprefixDescendants(n *Node, oldPrefix, newPrefix []string) {
	for _, cid := range n.Children {
		c, ok := s.nodes[cid]
		if !ok {
			continue
		}
		oldPath := append([]string(nil), c.Path...)
		suffix := c.Path[len(oldPrefix):]
		newPath := append(append([]string(nil), newPrefix...), suffix...)

		delete(s.byPath, pathKey(oldPath))
		c.Path = newPath
		s.byPath[pathKey(newPath)] = c.ID

		s.reprefixDescendants(c, oldPath, newPath)
	}
}

// UpdateScriptSource mutates a node's source body in place; it never
// reparents.
func (s *Store) UpdateScriptSource(id, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return ErrNotFound
	}
	n.Source = &source
	return nil
}

// DeleteInstance removes a node and, recursively, all of its descendants.
// It returns the removed node's pre-deletion script descendants (itself
// included if it is a script) in pre-order, so the caller can clean up
// their projected files before the tree state is gone.
func (s *Store) DeleteInstance(id string) (scripts []*Node, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}

	var collected []*Node
	s.collectPreOrder(root, &collected)
	for _, n := range collected {
		if n.IsScript() {
			cp := *n
			scripts = append(scripts, &cp)
		}
	}

	if root.ParentID != "" {
		s.detach(root.ID, root.ParentID)
	}
	for _, n := range collected {
		delete(s.nodes, n.ID)
		delete(s.byPath, pathKey(n.Path))
		s.unindexScript(n.ID)
	}
	return scripts, nil
}

// collectPreOrder walks the subtree rooted at n (n included) in pre-order.
// Caller must hold s.mu.
func (s *Store) collectPreOrder(n *Node, out *[]*Node) {
	*out = append(*out, n)
	for _, cid := range n.Children {
		if c, ok := s.nodes[cid]; ok {
			s.collectPreOrder(c, out)
		}
	}
}

// GetDescendantScripts returns all script-kind descendants of id (id
// itself excluded) in pre-order.
func (s *Store) GetDescendantScripts(id string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	var out []*Node
	for _, cid := range root.Children {
		if c, ok := s.nodes[cid]; ok {
			s.collectScripts(c, &out)
		}
	}
	return out, nil
}

func (s *Store) collectScripts(n *Node, out *[]*Node) {
	if n.IsScript() {
		*out = append(*out, n)
	}
	for _, cid := range n.Children {
		if c, ok := s.nodes[cid]; ok {
			s.collectScripts(c, out)
		}
	}
}

// AllScripts returns every script-class node currently in the tree, via
// the roaring-bitmap index rather than a full scan — used by the
// reconciler to project every script after a full snapshot.
func (s *Store) AllScripts() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, s.scriptBits.GetCardinality())
	it := s.scriptBits.Iterator()
	for it.HasNext() {
		intID := it.Next()
		if int(intID) >= len(s.intToNodeID) {
			continue
		}
		id := s.intToNodeID[intID]
		if id == "" {
			continue
		}
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Roots returns the immediate children of the synthetic root (the
// top-level services).
func (s *Store) Roots() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root := s.nodes[RootID]
	out := make([]*Node, 0, len(root.Children))
	for _, cid := range root.Children {
		if c, ok := s.nodes[cid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Children returns the direct children of id.
func (s *Store) Children(id string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*Node, 0, len(n.Children))
	for _, cid := range n.Children {
		if c, ok := s.nodes[cid]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
