package project

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/lexsf/azul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_PlainModuleScript(t *testing.T) {
	p := NewWithFS(memfs.New(), ".luau")
	rel, changed, err := p.Write(NodeView{
		ID: "b", Class: api.ClassModuleScript, Name: "Foo",
		Path: []string{"ReplicatedStorage", "Foo"},
	}, "return 1\n")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "ReplicatedStorage/Foo.luau", rel)
}

func TestWrite_ContainerCollapse(t *testing.T) {
	p := NewWithFS(memfs.New(), ".luau")
	rel, _, err := p.Write(NodeView{
		ID: "mod", Class: api.ClassModuleScript, Name: "Mod",
		Path: []string{"X", "Mod"}, HasChildren: true,
	}, "return {}\n")
	require.NoError(t, err)
	assert.Equal(t, "X/Mod/init.luau", rel)

	subRel, _, err := p.Write(NodeView{
		ID: "sub", Class: api.ClassModuleScript, Name: "Sub",
		Path: []string{"X", "Mod", "Sub"},
	}, "-- leaf\n")
	require.NoError(t, err)
	assert.Equal(t, "X/Mod/Sub.luau", subRel)
}

func TestWrite_RenameRemovesStaleFileAndSweepsOldDir(t *testing.T) {
	p := NewWithFS(memfs.New(), ".luau")
	_, _, err := p.Write(NodeView{
		ID: "p", Class: api.ClassModuleScript, Name: "P",
		Path: []string{"ServerScriptService", "P"},
	}, "return 1\n")
	require.NoError(t, err)

	rel, changed, err := p.Write(NodeView{
		ID: "p", Class: api.ClassModuleScript, Name: "R",
		Path: []string{"ServerScriptService", "R"},
	}, "return 1\n")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "ServerScriptService/R.luau", rel)

	_, err = p.fsys.Stat("ServerScriptService/P.luau")
	assert.Error(t, err, "old file should have been removed on rename")

	entries, err := p.fsys.ReadDir("ServerScriptService")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"R.luau"}, names)
}

func TestDelete_SweepsEmptyDirectories(t *testing.T) {
	p := NewWithFS(memfs.New(), ".luau")
	_, _, err := p.Write(NodeView{
		ID: "b", Class: api.ClassModuleScript, Name: "Foo",
		Path: []string{"ReplicatedStorage", "Foo"},
	}, "return 1\n")
	require.NoError(t, err)

	require.NoError(t, p.Delete("b"))

	_, ok := p.PathFor("b")
	assert.False(t, ok)

	entries, err := p.fsys.ReadDir(".")
	require.NoError(t, err)
	assert.Empty(t, entries, "ReplicatedStorage directory should have been swept")
}

func TestSweepOrphans_RemovesUnmappedScripts(t *testing.T) {
	fsys := memfs.New()
	p := NewWithFS(fsys, ".luau")
	require.NoError(t, fsys.MkdirAll("Stray", 0o755))
	f, err := fsys.Create("Stray/Leftover.luau")
	require.NoError(t, err)
	_ = f.Close()

	removed, err := p.SweepOrphans()
	require.NoError(t, err)
	assert.Equal(t, []string{"Stray/Leftover.luau"}, removed)
}
