package bridge

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDaemonPath_OverrideWins(t *testing.T) {
	path, err := resolveDaemonPath("/opt/mcp-center/bin/mcp-center")
	require.NoError(t, err)
	assert.Equal(t, "/opt/mcp-center/bin/mcp-center", path)
}

func TestResolveDaemonPath_EnvWins(t *testing.T) {
	t.Setenv("MCP_CENTER_DAEMON", "/custom/mcp-center")
	path, err := resolveDaemonPath("")
	require.NoError(t, err)
	assert.Equal(t, "/custom/mcp-center", path)
}

func TestResolveDaemonPath_FindsSiblingBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sibling lookup uses a fixed executable name")
	}
	t.Setenv("MCP_CENTER_DAEMON", "")

	exe, err := os.Executable()
	require.NoError(t, err)

	sibling := filepath.Join(filepath.Dir(exe), daemonBinaryName)
	if _, err := os.Stat(sibling); err == nil {
		t.Skipf("a real %s happens to exist next to the test binary, skipping", daemonBinaryName)
	}

	require.NoError(t, os.WriteFile(sibling, []byte("#!/bin/sh\n"), 0o755))
	defer os.Remove(sibling)

	path, err := resolveDaemonPath("")
	require.NoError(t, err)
	assert.Equal(t, sibling, path)
}

func TestResolveDaemonPath_FailsFastWhenUnresolvable(t *testing.T) {
	t.Setenv("MCP_CENTER_DAEMON", "")
	t.Setenv("PATH", t.TempDir())

	_, err := resolveDaemonPath("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MCP_CENTER_DAEMON")
}
