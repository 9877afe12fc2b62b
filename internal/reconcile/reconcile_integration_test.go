package reconcile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexsf/azul/api"
	"github.com/lexsf/azul/internal/model"
	"github.com/lexsf/azul/internal/project"
	"github.com/lexsf/azul/internal/sourcemap"
)

// newIntegrationHarness wires real collaborators (memfs-backed projector,
// a real sourcemap.Writer against a temp file) rather than the minimal
// fakes newHarness uses, to exercise end-to-end scenarios straight out of
// the cold-start/rename/delete walkthroughs.
func newIntegrationHarness(t *testing.T) (*Reconciler, *fakeEndpoint, *project.Projector, *sourcemap.Writer) {
	t.Helper()
	store := model.New()
	proj := project.NewWithFS(memfs.New(), ".luau")
	idx := sourcemap.New(filepath.Join(t.TempDir(), "sourcemap.json"))
	ep := newFakeEndpoint()
	r := New(store, proj, idx, ep, false)
	return r, ep, proj, idx
}

func readSourcemap(t *testing.T, idx *sourcemap.Writer) sourcemap.Entry {
	t.Helper()
	data, err := os.ReadFile(idx.OutputPath())
	require.NoError(t, err)
	var root sourcemap.Entry
	require.NoError(t, json.Unmarshal(data, &root))
	return root
}

func TestIntegration_ColdStartSnapshot(t *testing.T) {
	r, _, proj, idx := newIntegrationHarness(t)

	r.Dispatch(envelope(t, api.TagFullSnapshot, api.FullSnapshotPayload{Data: []api.Entry{
		{ID: "a", ClassName: "ReplicatedStorage", Name: "ReplicatedStorage", Path: []string{"ReplicatedStorage"}},
		{ID: "b", ClassName: api.ClassModuleScript, Name: "Foo", Path: []string{"ReplicatedStorage", "Foo"}, Source: strPtr("return 1\n")},
	}}))

	rel, ok := proj.PathFor("b")
	require.True(t, ok)
	assert.Equal(t, "ReplicatedStorage/Foo.luau", rel)

	body, err := proj.ReadFile(rel)
	require.NoError(t, err)
	assert.Equal(t, "return 1\n", string(body))

	root := readSourcemap(t, idx)
	require.Len(t, root.Children, 1)
	svc := root.Children[0]
	assert.Equal(t, "ReplicatedStorage", svc.Name)
	require.Len(t, svc.Children, 1)
	assert.Equal(t, "Foo", svc.Children[0].Name)
	assert.Equal(t, []string{"ReplicatedStorage/Foo.luau"}, svc.Children[0].FilePaths)
}

func TestIntegration_ContainerCollapse(t *testing.T) {
	r, _, proj, _ := newIntegrationHarness(t)

	r.Dispatch(envelope(t, api.TagFullSnapshot, api.FullSnapshotPayload{Data: []api.Entry{
		{ID: "x", ClassName: api.ClassFolder, Name: "X", Path: []string{"X"}},
		{ID: "mod", ClassName: api.ClassModuleScript, Name: "Mod", Path: []string{"X", "Mod"}, Source: strPtr("return {}\n")},
		{ID: "sub", ClassName: api.ClassModuleScript, Name: "Sub", Path: []string{"X", "Mod", "Sub"}, Source: strPtr("-- leaf\n")},
	}}))

	rel, ok := proj.PathFor("mod")
	require.True(t, ok)
	assert.Equal(t, "X/Mod/init.luau", rel)

	subRel, ok := proj.PathFor("sub")
	require.True(t, ok)
	assert.Equal(t, "X/Mod/Sub.luau", subRel)
}

func TestIntegration_RenamePropagatesDescendantsAndSweepsOldDir(t *testing.T) {
	r, _, proj, idx := newIntegrationHarness(t)

	r.Dispatch(envelope(t, api.TagFullSnapshot, api.FullSnapshotPayload{Data: []api.Entry{
		{ID: "s", ClassName: "ServerScriptService", Name: "S", Path: []string{"S"}},
		{ID: "p", ClassName: api.ClassModuleScript, Name: "P", Path: []string{"S", "P"}, Source: strPtr("return 1\n")},
		{ID: "q", ClassName: api.ClassModuleScript, Name: "Q", Path: []string{"S", "P", "Q"}, Source: strPtr("return 2\n")},
	}}))

	require.Equal(t, "S/P/init.luau", mustPath(t, proj, "p"))
	require.Equal(t, "S/P/Q.luau", mustPath(t, proj, "q"))

	r.Dispatch(envelope(t, api.TagInstanceUpdated, api.InstanceUpdatedPayload{
		Data: api.Entry{ID: "p", ClassName: api.ClassModuleScript, Name: "R", Path: []string{"S", "R"}, Source: strPtr("return 1\n")},
	}))

	assert.Equal(t, "S/R/init.luau", mustPath(t, proj, "p"))
	assert.Equal(t, "S/R/Q.luau", mustPath(t, proj, "q"))

	entries, err := proj.ReadDir("S")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"R"}, names, "old P directory should be gone, only R remains under S")

	root := readSourcemap(t, idx)
	require.Len(t, root.Children, 1)
	svc := root.Children[0]
	require.Len(t, svc.Children, 1)
	assert.Equal(t, "R", svc.Children[0].Name)
}

func TestIntegration_DeletePrunesFileAndIndex(t *testing.T) {
	r, _, proj, idx := newIntegrationHarness(t)

	r.Dispatch(envelope(t, api.TagFullSnapshot, api.FullSnapshotPayload{Data: []api.Entry{
		{ID: "a", ClassName: "ReplicatedStorage", Name: "ReplicatedStorage", Path: []string{"ReplicatedStorage"}},
		{ID: "b", ClassName: api.ClassModuleScript, Name: "Foo", Path: []string{"ReplicatedStorage", "Foo"}, Source: strPtr("return 1\n")},
	}}))

	r.Dispatch(api.Envelope{Type: api.TagDeleted, Data: mustMarshal(t, api.DeletedPayload{ID: "b"})})

	_, ok := proj.PathFor("b")
	assert.False(t, ok)

	entries, err := proj.ReadDir(".")
	require.NoError(t, err)
	assert.Empty(t, entries, "ReplicatedStorage should have been swept once empty")

	root := readSourcemap(t, idx)
	require.Len(t, root.Children, 1)
	assert.Empty(t, root.Children[0].Children)
}

func mustPath(t *testing.T, proj *project.Projector, id string) string {
	t.Helper()
	rel, ok := proj.PathFor(id)
	require.True(t, ok)
	return rel
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
