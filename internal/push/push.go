// Package push implements the one-shot Push Projector: it builds a
// snapshot of instances from a local source tree — either a plain
// directory walk or a Rojo-style JSON project manifest — for transmission
// to the editor as a single pushSnapshot/buildSnapshot message.
//
// Manifest parsing uses ojg's generic JSON decode (oj.Parse) rather than
// a typed struct, the same approach the teacher's internal/ingest/
// json_walker.go takes for its free-form JSONPath queries: a project
// manifest's shape (arbitrary `$`-prefixed metadata keys interleaved with
// arbitrarily nested child-node keys) doesn't fit a fixed schema.
package push

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/ohler55/ojg/oj"

	"github.com/lexsf/azul/api"
	"github.com/lexsf/azul/internal/codec"
)

// defaultIgnore is the built-in glob-ignore set applied to every
// filesystem merge in manifest mode, regardless of a node's own $ignore.
var defaultIgnore = []string{"**/.git", "**/sourcemap.json", "**/*.lock", "**/~$*"}

// nestedManifestName is the filename that marks a subdirectory as its own
// nested project, per Rojo convention.
const nestedManifestName = "default.project.json"

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// built pairs an entry with its path depth, for the final depth-then-
// lexical sort the spec requires for stability.
type built struct {
	entry api.Entry
	depth int
}

func sortBuilt(out []built) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].depth != out[j].depth {
			return out[i].depth < out[j].depth
		}
		return strings.Join(out[i].entry.Path, "/") < strings.Join(out[j].entry.Path, "/")
	})
}

func flatten(out []built) []api.Entry {
	entries := make([]api.Entry, len(out))
	for i, b := range out {
		entries[i] = b.entry
	}
	return entries
}

// isInitFile reports whether fileName is a container-collapse init file
// with either recognized script extension (.lua or .luau); ext is not
// consulted.
func isInitFile(fileName, ext string) bool {
	_ = ext // classifyFile already restricts to the two recognized script extensions
	c, ok := codec.ClassifyFile(fileName)
	return ok && c.Name == "init"
}

// detectInit scans a directory's entries for a container-collapse init
// file, returning its class and filename.
func detectInit(entries []os.DirEntry, ext string) (class, fileName string, ok bool) {
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isInitFile(e.Name(), ext) {
			c, _ := codec.ClassifyFile(e.Name())
			return c.Class, e.Name(), true
		}
	}
	return "", "", false
}

// WalkPlain builds the flattened, depth-sorted entry list for a plain
// directory walk rooted at dir, whose logical path is rootPath and whose
// own class (absent a collapsing init file) is rootClass — a source root
// in plain mode is always a named service, so rootClass is normally the
// last segment of rootPath.
func WalkPlain(dir string, rootPath []string, rootClass, ext string) ([]api.Entry, error) {
	var out []built
	if err := walkDir(dir, rootPath, rootClass, ext, &out); err != nil {
		return nil, err
	}
	sortBuilt(out)
	return flatten(out), nil
}

func walkDir(dir string, path []string, fallbackClass, ext string, out *[]built) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("push: read dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	name := path[len(path)-1]
	if class, fileName, ok := detectInit(entries, ext); ok {
		body, err := os.ReadFile(filepath.Join(dir, fileName))
		if err != nil {
			return fmt.Errorf("push: read %s: %w", fileName, err)
		}
		src := string(body)
		*out = append(*out, built{entry: api.Entry{ID: newID(), ClassName: class, Name: name, Path: clonePath(path), Source: &src}, depth: len(path)})
	} else {
		*out = append(*out, built{entry: api.Entry{ID: newID(), ClassName: fallbackClass, Name: name, Path: clonePath(path)}, depth: len(path)})
	}

	for _, e := range entries {
		if e.IsDir() {
			sub := filepath.Join(dir, e.Name())
			subPath := append(clonePath(path), codec.SanitizeName(e.Name()))
			if err := walkDir(sub, subPath, api.ClassFolder, ext, out); err != nil {
				return err
			}
			continue
		}
		if isInitFile(e.Name(), ext) {
			continue
		}
		cls, ok := codec.ClassifyFile(e.Name())
		if !ok {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("push: read %s: %w", e.Name(), err)
		}
		src := string(body)
		childPath := append(clonePath(path), cls.Name)
		*out = append(*out, built{entry: api.Entry{ID: newID(), ClassName: cls.Class, Name: cls.Name, Path: childPath, Source: &src}, depth: len(childPath)})
	}
	return nil
}

func clonePath(path []string) []string { return append([]string(nil), path...) }

// WalkSyncDir builds the flattened, depth-sorted entry list for a full
// local mirror directory: each of dir's immediate children is its own
// root service (path depth 1, class equal to its own name, the same
// convention emitManifestNode uses for a manifest's top-level nodes),
// not a single node wrapping the whole directory. The synthetic
// DataModel/"Game" root itself is never an entry — every Tree Store
// root service resolves its parent to that root implicitly, by having a
// single-segment path.
func WalkSyncDir(dir, ext string) ([]api.Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("push: read sync dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []built
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := codec.SanitizeName(e.Name())
		if err := walkDir(filepath.Join(dir, e.Name()), []string{name}, name, ext, &out); err != nil {
			return nil, err
		}
	}
	sortBuilt(out)
	return flatten(out), nil
}

// --- manifest-driven (Rojo-compatible) mode ---

// loadManifestTree reads a project manifest at manifestPath and returns
// its "tree" object as a generic map, decoded with ojg so arbitrary
// `$`-prefixed metadata keys need no fixed schema.
func loadManifestTree(manifestPath string) (map[string]any, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("push: read manifest %s: %w", manifestPath, err)
	}
	v, err := oj.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("push: parse manifest %s: %w", manifestPath, err)
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("push: manifest %s root is not an object", manifestPath)
	}
	tree, ok := root["tree"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("push: manifest %s has no tree object", manifestPath)
	}
	return tree, nil
}

// BuildFromManifest builds the flattened, depth-sorted entry list
// described by the project manifest at manifestPath.
func BuildFromManifest(manifestPath, ext string) ([]api.Entry, error) {
	tree, err := loadManifestTree(manifestPath)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(manifestPath)

	var out []built
	if err := walkManifestChildren(tree, nil, ext, baseDir, &out); err != nil {
		return nil, err
	}
	sortBuilt(out)
	return flatten(out), nil
}

func walkManifestChildren(node map[string]any, path []string, ext, baseDir string, out *[]built) error {
	keys := make([]string, 0, len(node))
	for k := range node {
		if !strings.HasPrefix(k, "$") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		child, _ := node[key].(map[string]any)
		if err := emitManifestNode(key, child, path, ext, baseDir, out); err != nil {
			return err
		}
	}
	return nil
}

func emitManifestNode(name string, node map[string]any, parentPath []string, ext, baseDir string, out *[]built) error {
	path := append(clonePath(parentPath), name)

	className, _ := node["$className"].(string)
	if className == "" {
		if len(path) == 1 {
			className = name // a root service's class is conventionally its own name
		} else {
			className = api.ClassFolder
		}
	}
	*out = append(*out, built{entry: api.Entry{ID: newID(), ClassName: className, Name: name, Path: path}, depth: len(path)})

	defined := map[string]bool{}
	for k := range node {
		if !strings.HasPrefix(k, "$") {
			defined[k] = true
		}
	}

	if fsPath, ok := node["$path"].(string); ok && fsPath != "" {
		abs := fsPath
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(baseDir, fsPath)
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			ignore := append(append([]string(nil), defaultIgnore...), manifestIgnore(node)...)
			if err := mergeFilesystem(abs, path, ext, defined, ignore, out); err != nil {
				return err
			}
		}
	}

	return walkManifestChildren(node, path, ext, baseDir, out)
}

func manifestIgnore(node map[string]any) []string {
	raw, ok := node["$ignore"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// mergeFilesystem merges dir's children into the snapshot under path.
// Children whose names are explicitly defined in the owning manifest node
// are skipped (the manifest definition takes precedence), a nested
// project manifest is recursed into independently rather than walked as
// plain files, and any path matching ignore is skipped outright.
func mergeFilesystem(dir string, path []string, ext string, skip map[string]bool, ignore []string, out *[]built) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if matchesIgnore(full, ignore) {
			continue
		}
		if e.IsDir() {
			if skip[e.Name()] {
				continue
			}
			subPath := append(clonePath(path), codec.SanitizeName(e.Name()))
			nested := filepath.Join(full, nestedManifestName)
			if _, err := os.Stat(nested); err == nil {
				nestedEntries, err := BuildFromManifest(nested, ext)
				if err != nil {
					return err
				}
				for _, ent := range nestedEntries {
					*out = append(*out, built{entry: ent, depth: len(ent.Path)})
				}
				continue
			}
			if err := walkDir(full, subPath, api.ClassFolder, ext, out); err != nil {
				return err
			}
			continue
		}
		if isInitFile(e.Name(), ext) {
			continue
		}
		cls, ok := codec.ClassifyFile(e.Name())
		if !ok || skip[cls.Name] {
			continue
		}
		body, err := os.ReadFile(full)
		if err != nil {
			return fmt.Errorf("push: read %s: %w", full, err)
		}
		src := string(body)
		childPath := append(clonePath(path), cls.Name)
		*out = append(*out, built{entry: api.Entry{ID: newID(), ClassName: cls.Class, Name: cls.Name, Path: childPath, Source: &src}, depth: len(childPath)})
	}
	return nil
}

// matchesIgnore reports whether absPath matches any of patterns. Patterns
// follow the simplified "**/" glob convention used throughout the push
// manifest ecosystem: a leading "**/" matches at any depth (tested against
// the base name), anything else is matched against the full path with
// filepath.Match.
func matchesIgnore(absPath string, patterns []string) bool {
	base := filepath.Base(absPath)
	for _, pat := range patterns {
		if strings.HasPrefix(pat, "**/") {
			if ok, _ := filepath.Match(strings.TrimPrefix(pat, "**/"), base); ok {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(pat, absPath); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}

// FindLooseScripts walks sourceRoot for script files whose directory path
// was not already covered by any manifest, materializing folder ancestors
// as needed. covered holds the slash-joined logical paths already produced
// by BuildFromManifest calls.
func FindLooseScripts(sourceRoot string, covered map[string]bool, ext string) ([]api.Entry, error) {
	var out []built
	entries, err := os.ReadDir(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("push: read source root %s: %w", sourceRoot, err)
	}
	if err := looseWalk(sourceRoot, nil, entries, covered, ext, &out); err != nil {
		return nil, err
	}
	sortBuilt(out)
	return flatten(out), nil
}

func looseWalk(dir string, path []string, entries []os.DirEntry, covered map[string]bool, ext string, out *[]built) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			subPath := append(clonePath(path), codec.SanitizeName(e.Name()))
			if covered[strings.Join(subPath, "/")] {
				continue
			}
			subEntries, err := os.ReadDir(full)
			if err != nil {
				continue
			}
			before := len(*out)
			if err := looseWalk(full, subPath, subEntries, covered, ext, out); err != nil {
				return err
			}
			if len(*out) > before {
				*out = append(*out, built{entry: api.Entry{ID: newID(), ClassName: api.ClassFolder, Name: subPath[len(subPath)-1], Path: subPath}, depth: len(subPath)})
			}
			continue
		}
		cls, ok := codec.ClassifyFile(e.Name())
		if !ok || cls.Name == "init" {
			continue
		}
		childPath := append(clonePath(path), cls.Name)
		if covered[strings.Join(childPath, "/")] {
			continue
		}
		body, err := os.ReadFile(full)
		if err != nil {
			return fmt.Errorf("push: read %s: %w", full, err)
		}
		src := string(body)
		*out = append(*out, built{entry: api.Entry{ID: newID(), ClassName: cls.Class, Name: cls.Name, Path: childPath, Source: &src}, depth: len(childPath)})
	}
	return nil
}

// BuildSnapshotPayload assembles the pushSnapshot payload for a set of
// mappings, dispatching each to plain or manifest mode by inspecting its
// source: a path ending in .json is a project manifest, anything else is
// a plain directory.
func BuildSnapshotPayload(mappings []api.PushMapping, ext string) (api.PushSnapshotPayload, error) {
	payload := api.PushSnapshotPayload{}
	for _, m := range mappings {
		var (
			entries []api.Entry
			err     error
		)
		if strings.HasSuffix(strings.ToLower(m.Source), ".json") {
			entries, err = BuildFromManifest(m.Source, ext)
		} else {
			entries, err = WalkPlain(m.Source, m.Destination, lastOf(m.Destination), ext)
		}
		if err != nil {
			return payload, fmt.Errorf("push: build mapping %s: %w", m.Source, err)
		}
		payload.Mappings = append(payload.Mappings, api.PushSnapshotMapping{
			Destination: m.Destination,
			Destructive: m.Destructive,
			Instances:   entries,
		})
	}
	return payload, nil
}

func lastOf(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}
