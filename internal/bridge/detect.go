// Package bridge implements mcp-center-bridge: project-path and agent
// detection, connect-or-launch against the daemon's control socket, and the
// stdio<->socket tunnel, grounded on the original mcp-center's
// bridge/connect.rs.
package bridge

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var fileMarkers = []string{filepath.Join(".cursor", "settings.json"), "cursor.json", ".windsurfrc"}
var dirMarkers = []string{".cursor", ".windsurf"}

// DetectProjectPath resolves the directory a bridge should be bound to,
// following the priority chain: MCP_CENTER_PROJECT_PATH override, then
// marker files/directories walking up from cwd, then the enclosing git
// repository's toplevel, and finally cwd itself (spec §4.4).
func DetectProjectPath() (string, error) {
	if override := os.Getenv("MCP_CENTER_PROJECT_PATH"); override != "" {
		return canonicalizeBestEffort(override), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if dir, ok := probeMarkers(cwd); ok {
		return dir, nil
	}

	if root, ok := gitToplevel(cwd); ok {
		return root, nil
	}

	return canonicalizeBestEffort(cwd), nil
}

// probeMarkers walks from base up to the filesystem root looking for any
// marker file or directory a supported editor/agent leaves behind.
func probeMarkers(base string) (string, bool) {
	for dir := base; ; {
		for _, marker := range fileMarkers {
			if pathExists(filepath.Join(dir, marker)) {
				return canonicalizeBestEffort(dir), true
			}
		}
		for _, marker := range dirMarkers {
			if pathExists(filepath.Join(dir, marker)) {
				return canonicalizeBestEffort(dir), true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// gitToplevel shells out to `git rev-parse --show-toplevel`, returning
// false if git is unavailable or base isn't inside a repository.
func gitToplevel(base string) (string, bool) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = base
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	raw := strings.TrimSpace(string(out))
	if raw == "" {
		return "", false
	}
	return canonicalizeBestEffort(raw), true
}

func canonicalizeBestEffort(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return real
}

// agentEnvKeys is checked in order; the first non-blank value wins (spec
// §4.4 "agent-name detection").
var agentEnvKeys = []string{"MCP_AGENT_NAME", "CURSOR_AGENT", "WINDSURF_AGENT"}

// DetectAgentName returns the calling editor/agent's self-reported name, if
// any of the known environment variables are set.
func DetectAgentName() string {
	for _, key := range agentEnvKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// GatherMetadata collects a small, best-effort diagnostic bundle attached to
// the bridge hello message.
func GatherMetadata() map[string]string {
	meta := map[string]string{"pid": strconv.Itoa(os.Getpid())}
	if cwd, err := os.Getwd(); err == nil {
		meta["cwd"] = cwd
	}
	if exe, err := os.Executable(); err == nil {
		meta["exe"] = exe
	}
	return meta
}
