// Package reconcile implements the Reconciler: the single-threaded
// orchestrator that dispatches inbound editor messages and local
// filesystem events against the Tree Store, Filesystem Projector, Index
// Writer, Filesystem Watcher, and Transport Endpoint.
//
// Every exported entry point here is meant to be driven from one logical
// goroutine (the daemon's event loop in cmd/); the Reconciler itself holds
// no internal concurrency beyond what its collaborators already
// serialize, matching the "single-threaded from the Reconciler's point of
// view" scheduling model.
package reconcile

import (
	"encoding/json"
	"log"
	"time"

	"github.com/lexsf/azul/api"
	"github.com/lexsf/azul/internal/model"
	"github.com/lexsf/azul/internal/project"
	"github.com/lexsf/azul/internal/sourcemap"
	"github.com/lexsf/azul/internal/transport"
	"github.com/lexsf/azul/internal/watch"
)

// Reconciler wires the Tree Store, Projector, Index Writer, Transport, and
// Watcher together. The Watcher itself is started lazily: per the
// dispatch table's fullSnapshot row ("start watcher if not running"), the
// first fullSnapshot starts it (the sync directory is guaranteed to exist
// by then, since the projector creates it on first write), and a later
// fullSnapshot restarts it if it has since died. A Reconciler that is
// never given ConfigureWatcher (tests driving the Tree Store directly)
// simply never starts one.
type Reconciler struct {
	store     *model.Store
	projector *project.Projector
	index     *sourcemap.Writer
	transport transport.Endpoint
	watcher   *watch.Watcher

	watchDir      string
	watchExt      []string
	watchDebounce time.Duration

	deleteOrphansOnConnect bool
	excludedServices       map[string]bool
}

// New builds a Reconciler over its collaborators. deleteOrphansOnConnect
// controls whether a fullSnapshot triggers projector.SweepOrphans.
func New(store *model.Store, projector *project.Projector, index *sourcemap.Writer, ep transport.Endpoint, deleteOrphansOnConnect bool) *Reconciler {
	return &Reconciler{
		store:                  store,
		projector:              projector,
		index:                  index,
		transport:              ep,
		deleteOrphansOnConnect: deleteOrphansOnConnect,
	}
}

// ConfigureWatcher records the parameters the Reconciler needs to (re)start
// the Filesystem Watcher on demand. Called once by the daemon at startup,
// before the first fullSnapshot arrives.
func (r *Reconciler) ConfigureWatcher(syncDir string, extensions []string, debounce time.Duration) {
	r.watchDir = syncDir
	r.watchExt = extensions
	r.watchDebounce = debounce
}

// ensureWatcher starts the Filesystem Watcher if one hasn't been started
// yet, or restarts it if it has since died. A no-op when ConfigureWatcher
// was never called.
func (r *Reconciler) ensureWatcher() {
	if r.watchDir == "" {
		return
	}
	if r.watcher != nil && r.watcher.Alive() {
		return
	}
	w, err := watch.New(r.watchDir, r.watchExt, r.watchDebounce, r.HandleLocalEdit)
	if err != nil {
		log.Printf("reconcile: fullSnapshot: start watcher: %v", err)
		return
	}
	r.watcher = w
	log.Printf("reconcile: watcher started for %s", r.watchDir)
}

// CloseWatcher stops the Filesystem Watcher, if one is running. Called by
// the daemon on clean shutdown.
func (r *Reconciler) CloseWatcher() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}

// SetExcludedServices installs the configured excludedServices set. The
// spec leaves enforcement on the daemon side unspecified ("a strict
// implementation should additionally filter inbound entries by this set");
// this is that strict implementation — entries rooted under an excluded
// service name are dropped before they ever reach the Tree Store, rather
// than trusting every editor agent to honor the exclusion on its own.
func (r *Reconciler) SetExcludedServices(names []string) {
	if len(names) == 0 {
		r.excludedServices = nil
		return
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	r.excludedServices = set
}

func (r *Reconciler) isExcluded(path []string) bool {
	if len(r.excludedServices) == 0 || len(path) == 0 {
		return false
	}
	return r.excludedServices[path[0]]
}

func (r *Reconciler) pathFor(id string) (string, bool) { return r.projector.PathFor(id) }

// Dispatch routes a single inbound envelope to its handler. It is the
// single entry point the daemon's event loop calls for editor messages.
func (r *Reconciler) Dispatch(env api.Envelope) {
	switch env.Type {
	case api.TagFullSnapshot:
		r.handleFullSnapshot(env)
	case api.TagScriptChanged:
		r.handleScriptChanged(env)
	case api.TagInstanceUpdated:
		r.handleInstanceUpdated(env)
	case api.TagDeleted:
		r.handleDeleted(env)
	case api.TagPing:
		r.send(api.TagPong, nil)
	case api.TagClientDisconnect:
		if err := r.transport.Close(); err != nil {
			log.Printf("reconcile: close endpoint: %v", err)
		}
	default:
		log.Printf("reconcile: unhandled inbound tag %q", env.Type)
	}
}

func (r *Reconciler) send(tag api.Tag, payload any) {
	env, err := api.Encode(tag, payload)
	if err != nil {
		log.Printf("reconcile: encode %s: %v", tag, err)
		return
	}
	if err := r.transport.Send(env); err != nil {
		log.Printf("reconcile: send %s: %v", tag, err)
	}
}

func (r *Reconciler) handleFullSnapshot(env api.Envelope) {
	var payload api.FullSnapshotPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		log.Printf("reconcile: fullSnapshot: bad payload: %v", err)
		return
	}

	r.ensureWatcher()

	entries := payload.Data
	if len(r.excludedServices) > 0 {
		entries = make([]api.Entry, 0, len(payload.Data))
		for _, e := range payload.Data {
			if !r.isExcluded(e.Path) {
				entries = append(entries, e)
			}
		}
	}

	result := r.store.ApplyFullSnapshot(entries)
	if len(result.Dropped) > 0 {
		log.Printf("reconcile: fullSnapshot: dropped %d entries with unresolved parents: %v", len(result.Dropped), result.Dropped)
	}

	written := 0
	for _, n := range r.store.AllScripts() {
		if n.Source == nil {
			continue
		}
		if r.watcher != nil {
			if rel, ok := r.projector.PathFor(n.ID); ok {
				r.watcher.SuppressNext(r.projector.AbsPath(rel))
			}
		}
		if _, _, err := r.projector.Write(toNodeView(n, r.store), *n.Source); err != nil {
			log.Printf("reconcile: fullSnapshot: project %s: %v", n.ID, err)
			continue
		}
		written++
	}

	if r.deleteOrphansOnConnect {
		if removed, err := r.projector.SweepOrphans(); err != nil {
			log.Printf("reconcile: fullSnapshot: sweep orphans: %v", err)
		} else if len(removed) > 0 {
			log.Printf("reconcile: fullSnapshot: removed %d orphaned files", len(removed))
		}
	}

	r.ensureWatcher()

	if err := r.index.Generate(r.store, r.pathFor); err != nil {
		log.Printf("reconcile: fullSnapshot: regenerate index: %v", err)
	}

	log.Printf("reconcile: fullSnapshot applied: %d entries, %d scripts projected", result.Applied, written)
}

func (r *Reconciler) handleScriptChanged(env api.Envelope) {
	var payload api.ScriptChangedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		log.Printf("reconcile: scriptChanged: bad payload: %v", err)
		return
	}

	if _, err := r.store.GetNode(payload.ID); err != nil {
		r.store.UpdateInstance(api.Entry{
			ID: payload.ID, ClassName: payload.ClassName, Name: lastSegment(payload.Path),
			Path: payload.Path, Source: &payload.Source,
		})
	} else if err := r.store.UpdateScriptSource(payload.ID, payload.Source); err != nil {
		log.Printf("reconcile: scriptChanged: update source %s: %v", payload.ID, err)
		return
	}

	n, err := r.store.GetNode(payload.ID)
	if err != nil {
		log.Printf("reconcile: scriptChanged: node vanished %s: %v", payload.ID, err)
		return
	}

	if r.watcher != nil {
		if rel, ok := r.projector.PathFor(n.ID); ok {
			r.watcher.SuppressNext(r.projector.AbsPath(rel))
		}
	}
	if _, _, err := r.projector.Write(toNodeView(n, r.store), payload.Source); err != nil {
		log.Printf("reconcile: scriptChanged: write %s: %v", payload.ID, err)
		return
	}

	if err := r.index.Upsert(r.store, r.pathFor, n.ID); err != nil {
		log.Printf("reconcile: scriptChanged: upsert index %s: %v", payload.ID, err)
	}
}

func (r *Reconciler) handleInstanceUpdated(env api.Envelope) {
	var payload api.InstanceUpdatedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		log.Printf("reconcile: instanceUpdated: bad payload: %v", err)
		return
	}
	if r.isExcluded(payload.Data.Path) {
		return
	}

	res := r.store.UpdateInstance(payload.Data)
	if res.Orphaned {
		log.Printf("reconcile: instanceUpdated: %s orphaned, parent not yet known", payload.Data.ID)
	}

	affected := map[string]*model.Node{}
	if res.Node.IsScript() {
		affected[res.Node.ID] = res.Node
	}
	if res.PathChanged || res.NameChanged {
		if descendants, err := r.store.GetDescendantScripts(res.Node.ID); err == nil {
			for _, d := range descendants {
				affected[d.ID] = d
			}
		}
	}

	for _, n := range affected {
		if n.Source == nil {
			continue
		}
		if r.watcher != nil {
			if rel, ok := r.projector.PathFor(n.ID); ok {
				r.watcher.SuppressNext(r.projector.AbsPath(rel))
			}
		}
		if _, _, err := r.projector.Write(toNodeView(n, r.store), *n.Source); err != nil {
			log.Printf("reconcile: instanceUpdated: project %s: %v", n.ID, err)
		}
	}

	if res.IsNew || res.PathChanged || res.NameChanged || res.Node.IsScript() {
		if err := r.index.Upsert(r.store, r.pathFor, res.Node.ID); err != nil {
			log.Printf("reconcile: instanceUpdated: upsert index %s: %v", res.Node.ID, err)
		}
	}

	if err := r.projector.Sweep(); err != nil {
		log.Printf("reconcile: instanceUpdated: sweep: %v", err)
	}
}

func (r *Reconciler) handleDeleted(env api.Envelope) {
	var payload api.DeletedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		log.Printf("reconcile: deleted: bad payload: %v", err)
		return
	}

	scripts, err := r.store.DeleteInstance(payload.ID)
	if err != nil {
		log.Printf("reconcile: deleted: %s: %v", payload.ID, err)
		return
	}

	for _, n := range scripts {
		if err := r.projector.Delete(n.ID); err != nil {
			if rel, ok := r.pathFor(n.ID); ok {
				_ = r.projector.DeletePath(rel)
			}
			log.Printf("reconcile: deleted: remove file for %s: %v", n.ID, err)
		}
	}

	if err := r.index.Prune(r.store, r.pathFor, payload.ID); err != nil {
		log.Printf("reconcile: deleted: prune index: %v, falling back to full regeneration", err)
		if err := r.index.Generate(r.store, r.pathFor); err != nil {
			log.Printf("reconcile: deleted: regenerate index: %v", err)
		}
	}

	if err := r.projector.Sweep(); err != nil {
		log.Printf("reconcile: deleted: sweep: %v", err)
	}
}

// HandleLocalEdit is invoked by the watcher callback for a debounced
// local write. It looks the absolute path up in the projector's mapping;
// an unmapped path (a stray file the editor never created) is ignored.
func (r *Reconciler) HandleLocalEdit(absPath string, body []byte) {
	rel, err := r.projector.RelPath(absPath)
	if err != nil {
		log.Printf("reconcile: local edit: relativize %s: %v", absPath, err)
		return
	}
	id, ok := r.projector.IDForPath(rel)
	if !ok {
		log.Printf("reconcile: local edit: %s is not a mapped script, ignoring", rel)
		return
	}

	source := string(body)
	if err := r.store.UpdateScriptSource(id, source); err != nil {
		log.Printf("reconcile: local edit: update source %s: %v", id, err)
		return
	}

	r.send(api.TagPatchScript, api.PatchScriptPayload{ID: id, Source: source})
}

func toNodeView(n *model.Node, store *model.Store) project.NodeView {
	children, _ := store.Children(n.ID)
	return project.NodeView{
		ID: n.ID, Class: n.Class, Name: n.Name, Path: n.Path,
		HasChildren: len(children) > 0,
	}
}

func lastSegment(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}
