package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProjectPath_EnvOverrideWins(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MCP_CENTER_PROJECT_PATH", dir)

	path, err := DetectProjectPath()
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, want, path)
}

func TestProbeMarkers_FindsCursorDirMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".cursor"), 0o755))

	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	dir, ok := probeMarkers(nested)
	assert.True(t, ok)

	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, want, dir)
}

func TestProbeMarkers_FindsFileMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cursor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".cursor", "settings.json"), []byte("{}"), 0o644))

	dir, ok := probeMarkers(root)
	assert.True(t, ok)

	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, want, dir)
}

func TestProbeMarkers_NoneFound(t *testing.T) {
	root := t.TempDir()
	_, ok := probeMarkers(root)
	assert.False(t, ok)
}

func TestDetectAgentName_PrefersMCPAgentName(t *testing.T) {
	t.Setenv("MCP_AGENT_NAME", "claude")
	t.Setenv("CURSOR_AGENT", "cursor")
	assert.Equal(t, "claude", DetectAgentName())
}

func TestDetectAgentName_FallsBackToCursorAgent(t *testing.T) {
	t.Setenv("MCP_AGENT_NAME", "")
	t.Setenv("CURSOR_AGENT", "cursor")
	assert.Equal(t, "cursor", DetectAgentName())
}

func TestDetectAgentName_NoneSet(t *testing.T) {
	t.Setenv("MCP_AGENT_NAME", "")
	t.Setenv("CURSOR_AGENT", "")
	t.Setenv("WINDSURF_AGENT", "")
	assert.Equal(t, "", DetectAgentName())
}

func TestGatherMetadata_IncludesPID(t *testing.T) {
	meta := GatherMetadata()
	assert.NotEmpty(t, meta["pid"])
}
