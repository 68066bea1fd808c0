// Package layout resolves the on-disk root directory and the file paths of
// every entity the daemon persists, grounded on the original
// mcp-center's paths.rs.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	rootEnvKey        = "MCP_CENTER_ROOT"
	defaultRootDirNam = ".mcp-center"
)

// Layout describes the directory structure rooted at $MCP_CENTER_ROOT or
// $HOME/.mcp-center.
type Layout struct {
	root        string
	configDir   string
	serversDir  string
	logsDir     string
	stateDir    string
	projectsDir string
}

// New builds a Layout without touching the filesystem.
func New(root string) Layout {
	configDir := filepath.Join(root, "config")
	return Layout{
		root:        root,
		configDir:   configDir,
		serversDir:  filepath.Join(configDir, "servers"),
		logsDir:     filepath.Join(root, "logs"),
		stateDir:    filepath.Join(root, "state"),
		projectsDir: filepath.Join(root, "projects"),
	}
}

// DefaultRoot resolves MCP_CENTER_ROOT, falling back to
// $HOME/.mcp-center (or $USERPROFILE on platforms without HOME).
func DefaultRoot() (string, error) {
	if v := os.Getenv(rootEnvKey); v != "" {
		return v, nil
	}
	home, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine user home directory for %s: %w", rootEnvKey, err)
	}
	return filepath.Join(home, defaultRootDirNam), nil
}

func userHomeDir() (string, error) {
	if home := os.Getenv("HOME"); home != "" {
		return home, nil
	}
	if profile := os.Getenv("USERPROFILE"); profile != "" {
		return profile, nil
	}
	return "", fmt.Errorf("neither HOME nor USERPROFILE is set")
}

// Ensure creates every directory in the layout if it does not exist.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.root, l.configDir, l.serversDir, l.logsDir, l.stateDir, l.projectsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Root returns the layout's root directory.
func (l Layout) Root() string { return l.root }

// ConfigDir returns the top-level config directory.
func (l Layout) ConfigDir() string { return l.configDir }

// ServersDir returns the directory holding individual server definitions.
func (l Layout) ServersDir() string { return l.serversDir }

// LogsDir returns the directory holding aggregated logs.
func (l Layout) LogsDir() string { return l.logsDir }

// StateDir returns the directory holding runtime state (pid files, sockets).
func (l Layout) StateDir() string { return l.stateDir }

// ProjectsDir returns the directory holding project registry files.
func (l Layout) ProjectsDir() string { return l.projectsDir }

// ServerConfigPath returns the canonical TOML config path for a server id.
func (l Layout) ServerConfigPath(id string) string {
	return filepath.Join(l.serversDir, id+".toml")
}

// ServerLogPath returns the log file path for a server id.
func (l Layout) ServerLogPath(id string) string {
	return filepath.Join(l.logsDir, id+".log")
}

// ServerPIDPath returns the pid file path for a server id.
func (l Layout) ServerPIDPath(id string) string {
	return filepath.Join(l.stateDir, id+".pid")
}

// DaemonSocketPath returns the control-plane socket path.
func (l Layout) DaemonSocketPath() string {
	return filepath.Join(l.stateDir, "daemon.sock")
}

// DaemonRPCSocketPath returns the operator RPC socket path.
func (l Layout) DaemonRPCSocketPath() string {
	return filepath.Join(l.stateDir, "daemon.rpc.sock")
}

// DaemonLockPath returns the daemon startup lock file path.
func (l Layout) DaemonLockPath() string {
	return filepath.Join(l.stateDir, "daemon.lock")
}

// ProjectConfigPath returns the TOML path for a project id.
func (l Layout) ProjectConfigPath(id string) string {
	return filepath.Join(l.projectsDir, id+".toml")
}

// DaemonStartupLogPath returns the path the bridge appends daemon stderr to
// while waiting for the spawned daemon to come up.
func (l Layout) DaemonStartupLogPath() string {
	return filepath.Join(l.logsDir, "daemon-startup.log")
}
