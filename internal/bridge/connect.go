package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wangnov/mcp-center/internal/layout"
)

// daemonBinaryName is the mcp-center daemon's executable name, distinct
// from this bridge binary (mcp-bridge) since mcp-center ships as two
// separate binaries (spec §4.4).
const daemonBinaryName = "mcp-center"

// connectTimeout bounds how long ConnectOrLaunch waits for a freshly
// spawned daemon to start accepting control connections (spec §4.4).
const connectTimeout = 60 * time.Second
const connectPollInterval = 200 * time.Millisecond

// Options configures how the bridge locates and, if necessary, launches the
// daemon binary.
type Options struct {
	Root       string // overrides layout.DefaultRoot()
	DaemonPath string // explicit path to the mcp-center daemon binary
}

// ConnectOrLaunch dials the daemon's control socket, spawning a detached
// `<daemon> serve` if nothing answers yet, then polling until the socket
// comes up or connectTimeout elapses (spec §4.4 "Daemon discovery").
func ConnectOrLaunch(l layout.Layout, opts Options, logger *slog.Logger) (net.Conn, error) {
	socketPath := l.DaemonSocketPath()

	conn, err := net.Dial("unix", socketPath)
	if err == nil {
		return conn, nil
	}
	if !isConnRefusedOrMissing(err) {
		return nil, err
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		logger.Warn("control socket present but no listener, removing stale socket", "path", socketPath)
		_ = os.Remove(socketPath)
	}

	if err := spawnDaemon(l, opts, logger); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(connectTimeout)
	for {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			return conn, nil
		}
		if !isConnRefusedOrMissing(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for daemon socket at %s", socketPath)
		}
		time.Sleep(connectPollInterval)
	}
}

func isConnRefusedOrMissing(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, os.ErrNotExist) || os.IsNotExist(err)
}

// spawnDaemon launches `<daemon-path> serve` detached from this process's
// session, with stdout/stdin discarded and stderr captured to the startup
// log (spec §4.4, §7).
func spawnDaemon(l layout.Layout, opts Options, logger *slog.Logger) error {
	daemonPath, err := resolveDaemonPath(opts.DaemonPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(l.LogsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := l.DaemonStartupLogPath()
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open daemon startup log %s: %w", logPath, err)
	}
	defer logFile.Close()

	args := []string{"serve"}
	if opts.Root != "" {
		args = append(args, "--root", opts.Root)
	}

	cmd := exec.Command(daemonPath, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = logFile
	configureDetached(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn daemon using %s: %w", daemonPath, err)
	}
	logger.Info("spawned mcp-center serve", "path", daemonPath, "log", logPath)
	return nil
}

// resolveDaemonPath locates the mcp-center daemon binary. mcp-center ships
// as two binaries (mcp-bridge, this process, and mcp-center, the daemon),
// so unlike the original single-binary Rust bridge it can never assume its
// own executable path names the daemon: it looks for a sibling binary next
// to mcp-bridge, then on PATH, and otherwise fails with an actionable error
// instead of silently re-spawning itself.
func resolveDaemonPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv("MCP_CENTER_DAEMON"); env != "" {
		return env, nil
	}
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), daemonBinaryName)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	if path, err := exec.LookPath(daemonBinaryName); err == nil {
		return path, nil
	}
	return "", fmt.Errorf(
		"could not locate the %s daemon binary: not found next to mcp-bridge or on PATH; "+
			"set --daemon or MCP_CENTER_DAEMON to its path", daemonBinaryName)
}
