package sourcemap

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lexsf/azul/api"
	"github.com/lexsf/azul/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestGenerate_WritesSortedTreeWithFilePaths(t *testing.T) {
	s := model.New()
	s.ApplyFullSnapshot([]api.Entry{
		{ID: "rs", ClassName: "ReplicatedStorage", Name: "ReplicatedStorage", Path: []string{"ReplicatedStorage"}},
		{ID: "b", ClassName: api.ClassModuleScript, Name: "Zed", Path: []string{"ReplicatedStorage", "Zed"}, Source: strPtr("return 1\n")},
		{ID: "a", ClassName: api.ClassModuleScript, Name: "Aardvark", Path: []string{"ReplicatedStorage", "Aardvark"}, Source: strPtr("return 2\n")},
	})

	out := filepath.Join(t.TempDir(), "sourcemap.json")
	w := New(out)
	paths := map[string]string{"b": "ReplicatedStorage/Zed.luau", "a": "ReplicatedStorage/Aardvark.luau"}
	pathFor := func(id string) (string, bool) { p, ok := paths[id]; return p, ok }

	require.NoError(t, w.Generate(s, pathFor))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)

	// The sourcemap is an external contract editor tooling parses directly
	// (spec: {name, className, filePaths?, children?}) — assert the literal
	// lowercase key text, not just a round-trip through this package's own
	// struct tags.
	rawStr := string(raw)
	assert.Contains(t, rawStr, `"name": "ReplicatedStorage"`)
	assert.Contains(t, rawStr, `"className": "DataModel"`)
	assert.Contains(t, rawStr, `"filePaths": [`)
	assert.Contains(t, rawStr, `"children": [`)
	assert.NotContains(t, rawStr, `"Name"`)
	assert.NotContains(t, rawStr, `"ClassName"`)
	assert.NotContains(t, rawStr, `"FilePaths"`)
	assert.NotContains(t, rawStr, `"Children"`)

	var root Entry
	require.NoError(t, json.Unmarshal(raw, &root))
	assert.Equal(t, "Game", root.Name)
	assert.Equal(t, "DataModel", root.ClassName)
	require.Len(t, root.Children, 1)
	rs := root.Children[0]
	assert.Equal(t, "ReplicatedStorage", rs.Name)
	require.Len(t, rs.Children, 2)
	// sorted lexically: Aardvark before Zed
	assert.Equal(t, "Aardvark", rs.Children[0].Name)
	assert.Equal(t, []string{"ReplicatedStorage/Aardvark.luau"}, rs.Children[0].FilePaths)
	assert.Equal(t, "Zed", rs.Children[1].Name)
}

func TestGenerate_OmitsFilePathsForNonScriptNodes(t *testing.T) {
	s := model.New()
	s.ApplyFullSnapshot([]api.Entry{
		{ID: "ws", ClassName: "Workspace", Name: "Workspace", Path: []string{"Workspace"}},
	})
	out := filepath.Join(t.TempDir(), "sourcemap.json")
	w := New(out)
	require.NoError(t, w.Generate(s, func(string) (string, bool) { return "", false }))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "filePaths")
}
