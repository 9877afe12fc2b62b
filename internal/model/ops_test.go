package model

import (
	"testing"

	"github.com/lexsf/azul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestApplyFullSnapshot_AttachesByPathPrefix(t *testing.T) {
	s := New()
	res := s.ApplyFullSnapshot([]api.Entry{
		{ID: "a", ClassName: "ReplicatedStorage", Name: "ReplicatedStorage", Path: []string{"ReplicatedStorage"}},
		{ID: "b", ClassName: api.ClassModuleScript, Name: "Foo", Path: []string{"ReplicatedStorage", "Foo"}, Source: strPtr("return 1\n")},
	})
	require.Equal(t, 2, res.Applied)
	require.Empty(t, res.Dropped)

	foo, err := s.GetNode("b")
	require.NoError(t, err)
	assert.Equal(t, "a", foo.ParentID)

	node, ok := s.FindByPath([]string{"ReplicatedStorage", "Foo"})
	require.True(t, ok)
	assert.Equal(t, "b", node.ID)
}

func TestApplyFullSnapshot_DropsEntryWithMissingParent(t *testing.T) {
	s := New()
	res := s.ApplyFullSnapshot([]api.Entry{
		{ID: "orphan", ClassName: api.ClassModuleScript, Name: "X", Path: []string{"Missing", "X"}},
	})
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, []string{"orphan"}, res.Dropped)
}

func TestUpdateInstance_RenameReparentsDescendants(t *testing.T) {
	s := New()
	s.ApplyFullSnapshot([]api.Entry{
		{ID: "svc", ClassName: "ServerScriptService", Name: "ServerScriptService", Path: []string{"ServerScriptService"}},
		{ID: "p", ClassName: api.ClassModuleScript, Name: "P", Path: []string{"ServerScriptService", "P"}},
		{ID: "q", ClassName: api.ClassModuleScript, Name: "Q", Path: []string{"ServerScriptService", "P", "Q"}},
	})

	res := s.UpdateInstance(api.Entry{ID: "p", ClassName: api.ClassModuleScript, Name: "R", Path: []string{"ServerScriptService", "R"}})
	require.True(t, res.PathChanged)
	require.True(t, res.NameChanged)
	assert.False(t, res.IsNew)

	scripts, err := s.GetDescendantScripts("svc")
	require.NoError(t, err)
	require.Len(t, scripts, 2)

	q, err := s.GetNode("q")
	require.NoError(t, err)
	assert.Equal(t, []string{"ServerScriptService", "R", "Q"}, q.Path)
}

func TestDeleteInstance_RemovesSubtreeAndReturnsScripts(t *testing.T) {
	s := New()
	s.ApplyFullSnapshot([]api.Entry{
		{ID: "svc", ClassName: "ReplicatedStorage", Name: "ReplicatedStorage", Path: []string{"ReplicatedStorage"}},
		{ID: "m", ClassName: api.ClassModuleScript, Name: "M", Path: []string{"ReplicatedStorage", "M"}, Source: strPtr("x")},
	})

	scripts, err := s.DeleteInstance("svc")
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "m", scripts[0].ID)

	_, err = s.GetNode("m")
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := s.FindByPath([]string{"ReplicatedStorage", "M"})
	assert.False(t, ok)
}

func TestUpdateInstance_OrphansWhenParentMissing(t *testing.T) {
	s := New()
	res := s.UpdateInstance(api.Entry{ID: "x", ClassName: api.ClassModuleScript, Name: "X", Path: []string{"Nope", "X"}})
	assert.True(t, res.Orphaned)
	assert.True(t, res.IsNew)

	// A later update naming the real parent should reattach it.
	s.UpdateInstance(api.Entry{ID: "svc", ClassName: "Workspace", Name: "Workspace", Path: []string{"Workspace"}})
	r := s.UpdateInstance(api.Entry{ID: "x", ClassName: api.ClassModuleScript, Name: "X", Path: []string{"Workspace", "X"}})
	assert.False(t, r.Orphaned)
}
