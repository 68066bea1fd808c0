package project

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangnov/mcp-center/internal/layout"
)

func testRegistry(t *testing.T) (*Registry, layout.Layout) {
	t.Helper()
	dir := t.TempDir()
	l := layout.New(dir)
	require.NoError(t, l.Ensure())
	return NewRegistry(l), l
}

func TestRegistry_StoreThenLoadAndFindByPath(t *testing.T) {
	reg, _ := testRegistry(t)

	rec := &Record{ID: "abc123", Path: "/tmp/x", AllowedServerIDs: []string{"a", "b"}}
	require.NoError(t, reg.Store(rec))

	loaded, err := reg.Load("abc123")
	require.NoError(t, err)
	assert.Equal(t, rec.Path, loaded.Path)

	found, ok, err := reg.FindByPath("/tmp/x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.ID, found.ID)
}

func TestRegistry_DeleteRemovesFromBothIndexes(t *testing.T) {
	reg, _ := testRegistry(t)

	rec := &Record{ID: "abc123", Path: "/tmp/x"}
	require.NoError(t, reg.Store(rec))
	require.NoError(t, reg.Delete("abc123"))

	_, err := reg.Load("abc123")
	assert.Error(t, err)
	_, ok, err := reg.FindByPath("/tmp/x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_LoadOrCreate_NewRecordSeedsAllowAll(t *testing.T) {
	reg, _ := testRegistry(t)

	rec, created, err := reg.LoadOrCreate("/tmp/proj", []string{"a", "b"}, "cursor", 4242, map[string]string{"cwd": "/tmp/proj"}, time.Unix(1000, 0))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"a", "b"}, rec.AllowedServerIDs)
	assert.Equal(t, "cursor", rec.Agent)
	assert.Equal(t, "/tmp/proj", rec.Metadata["meta_cwd"])
	assert.Equal(t, "4242", rec.Metadata["bridge_pid"])
}

func TestRegistry_LoadOrCreate_ExistingRecordPreservesPolicy(t *testing.T) {
	reg, _ := testRegistry(t)

	first, _, err := reg.LoadOrCreate("/tmp/proj", []string{"a"}, "", 0, nil, time.Unix(1000, 0))
	require.NoError(t, err)
	first.AllowedServerIDs = []string{"a", "custom"}
	require.NoError(t, reg.Store(first))

	second, created, err := reg.LoadOrCreate("/tmp/proj", []string{"a", "b", "c"}, "windsurf", 0, nil, time.Unix(2000, 0))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"a", "custom"}, second.AllowedServerIDs, "existing policy must survive re-handshake")
	assert.Equal(t, "windsurf", second.Agent)
	assert.Equal(t, int64(2000), second.LastSeenAt)
}

func TestRegistry_FindByPath_ReflectsExternalFileAddition(t *testing.T) {
	reg, l := testRegistry(t)

	rec := &Record{ID: "first", Path: "/tmp/a"}
	require.NoError(t, reg.Store(rec))

	// Simulate an external process (CLI/HTTP admin) writing a new record
	// directly to disk, bumping the directory fingerprint.
	other := &Record{ID: "second", Path: "/tmp/b"}
	require.NoError(t, saveRecordFile(l.ProjectConfigPath(other.ID), other))

	found, ok, err := reg.FindByPath("/tmp/b")
	require.NoError(t, err)
	require.True(t, ok, "cache must refresh transparently on fingerprint change")
	assert.Equal(t, "second", found.ID)
}
