package push

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexsf/azul/api"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWalkPlain_ContainerCollapseAndLeafScripts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Mod", "init.luau"), "return {}\n")
	writeFile(t, filepath.Join(root, "Mod", "Sub.luau"), "return 1\n")
	writeFile(t, filepath.Join(root, "Loose.server.luau"), "print(1)\n")

	entries, err := WalkPlain(root, []string{"ReplicatedStorage"}, "ReplicatedStorage", ".luau")
	require.NoError(t, err)

	byPath := map[string]string{}
	for _, e := range entries {
		byPath[joinPath(e.Path)] = e.ClassName
	}
	assert.Equal(t, "ReplicatedStorage", byPath["ReplicatedStorage"])
	assert.Equal(t, "ModuleScript", byPath["ReplicatedStorage/Mod"])
	assert.Equal(t, "ModuleScript", byPath["ReplicatedStorage/Mod/Sub"])
	assert.Equal(t, "Script", byPath["ReplicatedStorage/Loose"])

	// depth-then-lexical: the root entry must come first
	assert.Equal(t, "ReplicatedStorage", entries[0].Name)
}

func TestWalkPlain_PlainSubdirectoryIsFolder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Sub", "Leaf.module.luau"), "return 1\n")

	entries, err := WalkPlain(root, []string{"ServerScriptService"}, "ServerScriptService", ".luau")
	require.NoError(t, err)

	byPath := map[string]string{}
	for _, e := range entries {
		byPath[joinPath(e.Path)] = e.ClassName
	}
	assert.Equal(t, "Folder", byPath["ServerScriptService/Sub"])
	assert.Equal(t, "ModuleScript", byPath["ServerScriptService/Sub/Leaf"])
}

func TestWalkSyncDir_EachTopLevelDirIsItsOwnRootService(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ReplicatedStorage", "Shared.module.luau"), "return {}\n")
	writeFile(t, filepath.Join(root, "ServerScriptService", "Main.server.luau"), "print(1)\n")

	entries, err := WalkSyncDir(root, ".luau")
	require.NoError(t, err)

	byPath := map[string]string{}
	for _, e := range entries {
		byPath[joinPath(e.Path)] = e.ClassName
		assert.NotEqual(t, "DataModel", e.ClassName, "WalkSyncDir must never emit the synthetic DataModel root")
	}
	assert.Equal(t, "ReplicatedStorage", byPath["ReplicatedStorage"])
	assert.Equal(t, "ModuleScript", byPath["ReplicatedStorage/Shared"])
	assert.Equal(t, "ServerScriptService", byPath["ServerScriptService"])
	assert.Equal(t, "Script", byPath["ServerScriptService/Main"])

	// Root services are single-segment paths, so the Tree Store resolves
	// their parent to the implicit synthetic root.
	assert.Len(t, byPathEntry(entries, "ReplicatedStorage").Path, 1)
	assert.Len(t, byPathEntry(entries, "ServerScriptService").Path, 1)
}

func byPathEntry(entries []api.Entry, path string) api.Entry {
	for _, e := range entries {
		if joinPath(e.Path) == path {
			return e
		}
	}
	return api.Entry{}
}

func TestBuildFromManifest_RootClassAndPathMerge(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	writeFile(t, filepath.Join(srcDir, "Hello.module.luau"), "return 1\n")

	manifest := filepath.Join(root, "default.project.json")
	writeFile(t, manifest, `{
		"tree": {
			"ReplicatedStorage": {
				"$path": "src"
			}
		}
	}`)

	entries, err := BuildFromManifest(manifest, ".luau")
	require.NoError(t, err)

	byPath := map[string]string{}
	for _, e := range entries {
		byPath[joinPath(e.Path)] = e.ClassName
	}
	assert.Equal(t, "ReplicatedStorage", byPath["ReplicatedStorage"])
	assert.Equal(t, "ModuleScript", byPath["ReplicatedStorage/Hello"])
}

func TestBuildFromManifest_ExplicitChildTakesPrecedenceOverFilesystem(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	writeFile(t, filepath.Join(srcDir, "Hello.module.luau"), "return 1\n")

	manifest := filepath.Join(root, "default.project.json")
	writeFile(t, manifest, `{
		"tree": {
			"ReplicatedStorage": {
				"$path": "src",
				"Hello": { "$className": "Folder" }
			}
		}
	}`)

	entries, err := BuildFromManifest(manifest, ".luau")
	require.NoError(t, err)

	count := 0
	for _, e := range entries {
		if joinPath(e.Path) == "ReplicatedStorage/Hello" {
			count++
			assert.Equal(t, "Folder", e.ClassName)
		}
	}
	assert.Equal(t, 1, count, "manifest-defined child must not also be emitted from the filesystem walk")
}

func joinPath(path []string) string {
	out := ""
	for i, s := range path {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
