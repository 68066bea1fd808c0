package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/mcperrors"
	"github.com/wangnov/mcp-center/internal/serverconfig"
)

const notificationToolsListChanged = "notifications/tools/list_changed"

// remoteConnectBackoff bounds the retry loop connectRemote runs against
// SSE/HTTP upstreams that are slow to come up (spec §4.1 "Launch semantics
// by protocol": stdio failures are terminal, remote failures may be a race
// with the upstream's own startup and are worth a few retries).
var remoteConnectBackoff = wait.Backoff{
	Duration: 200 * time.Millisecond,
	Factor:   2.0,
	Steps:    4,
	Cap:      3 * time.Second,
}

// reconnectHealthInterval is how often a live remote upstream is pinged to
// detect a dropped connection worth reconnecting (spec §10 "backoff/retry").
const reconnectHealthInterval = 15 * time.Second

// reconnectBackoffFromEnv builds the exponential backoff a remote upstream's
// post-drop reconnect loop uses, tunable via MCP_CENTER_RECONNECT_BASE_DELAY,
// MCP_CENTER_RECONNECT_MAX_DELAY, and MCP_CENTER_RECONNECT_MAX_ATTEMPTS
// (spec §10). Unset or unparsable values fall back to remoteConnectBackoff's
// defaults.
func reconnectBackoffFromEnv() wait.Backoff {
	b := remoteConnectBackoff

	if v := os.Getenv("MCP_CENTER_RECONNECT_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			b.Duration = d
		}
	}
	if v := os.Getenv("MCP_CENTER_RECONNECT_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			b.Cap = d
		}
	}
	if v := os.Getenv("MCP_CENTER_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			b.Steps = n
		}
	}
	return b
}

// ManagedServer owns one live upstream connection: its client.Client peer
// handle, an ordered tools snapshot, a needs-refresh flag, and (for stdio
// upstreams) a pid file path. Exclusively owned by the Server Manager
// (spec §3).
type ManagedServer struct {
	def    serverconfig.Definition
	logger *slog.Logger

	needsRefresh atomic.Bool

	runtimeMu sync.Mutex
	peer      *client.Client
	pidPath   string

	toolsMu sync.RWMutex
	tools   []mcp.Tool

	stopSupervise chan struct{}
	superviseOnce sync.Once
}

// Launch spawns or connects to the upstream per its protocol and performs
// the MCP initialize handshake (spec §4.1 "Launch semantics by protocol").
func Launch(ctx context.Context, l layout.Layout, def serverconfig.Definition, logger *slog.Logger) (*ManagedServer, error) {
	ms := &ManagedServer{def: def, logger: logger.With("server_id", def.ID, "protocol", def.Protocol)}
	ms.needsRefresh.Store(true)

	var peer *client.Client
	var pidPath string
	var err error

	switch def.Protocol {
	case serverconfig.ProtocolStdio:
		peer, pidPath, err = spawnStdio(ctx, l, def)
	case serverconfig.ProtocolSSE, serverconfig.ProtocolHTTP:
		peer, err = connectRemote(ctx, def)
	default:
		return nil, mcperrors.ConfigInvalidf(def.ID, "unsupported protocol %q", def.Protocol)
	}
	if err != nil {
		return nil, mcperrors.UpstreamTransportf(def.ID, err, "failed to launch server %s", def.ID)
	}

	ms.runtimeMu.Lock()
	ms.peer = peer
	ms.pidPath = pidPath
	ms.runtimeMu.Unlock()

	ms.onPeerConnected(peer)

	if def.Protocol == serverconfig.ProtocolSSE || def.Protocol == serverconfig.ProtocolHTTP {
		ms.stopSupervise = make(chan struct{})
		go ms.superviseRemote(ctx)
	}

	return ms, nil
}

// onPeerConnected wires the tools/list_changed notification handler onto a
// freshly (re)connected peer. Called both at launch and after a successful
// reconnect (spec §4.1).
func (ms *ManagedServer) onPeerConnected(peer *client.Client) {
	peer.OnNotification(func(n mcp.JSONRPCNotification) {
		if n.Method == notificationToolsListChanged {
			ms.needsRefresh.Store(true)
		}
	})
}

// superviseRemote periodically pings a connected SSE/HTTP upstream and
// reconnects it with an env-tunable exponential backoff if the ping fails,
// matching the original's reconnect-on-drop behavior for remote transports
// (spec §10 "backoff/retry"). Stdio upstreams are not supervised: a dead
// child process is terminal, not worth reconnecting (spec §4.1).
func (ms *ManagedServer) superviseRemote(ctx context.Context) {
	ticker := time.NewTicker(reconnectHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ms.stopSupervise:
			return
		case <-ticker.C:
		}

		ms.runtimeMu.Lock()
		peer := ms.peer
		ms.runtimeMu.Unlock()
		if peer == nil {
			return
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := peer.Ping(pingCtx)
		cancel()
		if err == nil {
			continue
		}

		ms.logger.Warn("upstream ping failed, attempting reconnect", "error", err)
		newPeer, err := connectRemoteWithBackoff(ctx, ms.def, reconnectBackoffFromEnv())
		if err != nil {
			ms.logger.Error("reconnect attempt failed, will retry at next health check", "error", err)
			continue
		}

		ms.runtimeMu.Lock()
		if ms.peer != nil {
			_ = ms.peer.Close()
		}
		ms.peer = newPeer
		ms.runtimeMu.Unlock()
		ms.onPeerConnected(newPeer)
		ms.needsRefresh.Store(true)
		ms.logger.Info("reconnected to upstream after dropped connection")
	}
}

func spawnStdio(ctx context.Context, l layout.Layout, def serverconfig.Definition) (*client.Client, string, error) {
	envSlice := make([]string, 0, len(def.Env))
	for k, v := range def.Env {
		envSlice = append(envSlice, k+"="+v)
	}

	peer, err := client.NewStdioMCPClient(def.Command, envSlice, def.Args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to spawn process %q: %w", def.Command, err)
	}

	pidPath := l.ServerPIDPath(def.ID)
	if pid := stdioPID(peer); pid != 0 {
		if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)), 0o644); err != nil {
			_ = peer.Close()
			return nil, "", fmt.Errorf("failed to write pid file %s: %w", pidPath, err)
		}
	}

	if _, err := initialize(ctx, peer); err != nil {
		_ = peer.Close()
		_ = os.Remove(pidPath)
		return nil, "", err
	}
	return peer, pidPath, nil
}

func connectRemote(ctx context.Context, def serverconfig.Definition) (*client.Client, error) {
	return connectRemoteWithBackoff(ctx, def, remoteConnectBackoff)
}

// connectRemoteWithBackoff is connectRemote parameterized on the backoff
// schedule, shared between the initial-connect path (fixed schedule) and
// the post-drop reconnect supervisor (env-tunable schedule).
func connectRemoteWithBackoff(ctx context.Context, def serverconfig.Definition, backoff wait.Backoff) (*client.Client, error) {
	var peer *client.Client
	var connectErr error

	retryErr := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		var p *client.Client
		var err error

		switch def.Protocol {
		case serverconfig.ProtocolSSE:
			var opts []transport.ClientOption
			if len(def.Headers) > 0 {
				opts = append(opts, client.WithHeaders(def.Headers))
			}
			p, err = client.NewSSEMCPClient(def.Endpoint, opts...)
		case serverconfig.ProtocolHTTP:
			var opts []transport.StreamableHTTPCOption
			opts = append(opts, transport.WithContinuousListening())
			if len(def.Headers) > 0 {
				opts = append(opts, transport.WithHTTPHeaders(def.Headers))
			}
			p, err = client.NewStreamableHttpClient(def.Endpoint, opts...)
		}
		if err != nil {
			connectErr = fmt.Errorf("failed to create client for endpoint %s: %w", def.Endpoint, err)
			return false, nil
		}

		if err := p.Start(ctx); err != nil {
			_ = p.Close()
			connectErr = fmt.Errorf("failed to start transport: %w", err)
			return false, nil
		}
		if _, err := initialize(ctx, p); err != nil {
			_ = p.Close()
			connectErr = err
			return false, nil
		}

		peer = p
		connectErr = nil
		return true, nil
	})
	if retryErr != nil {
		if connectErr != nil {
			return nil, connectErr
		}
		return nil, retryErr
	}
	return peer, nil
}

func initialize(ctx context.Context, peer *client.Client) (*mcp.InitializeResult, error) {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "mcp-center", Version: "0.1.0"}
	req.Params.Capabilities = mcp.ClientCapabilities{
		Roots: &struct {
			ListChanged bool `json:"listChanged,omitempty"`
		}{ListChanged: true},
	}
	result, err := peer.Initialize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upstream: %w", err)
	}
	return result, nil
}

// stdioPID best-effort extracts the child process pid from a stdio
// transport. mcp-go's stdio transport does not expose this uniformly
// across versions; absence of a pid simply skips pid-file bookkeeping.
func stdioPID(peer *client.Client) int {
	type pidProvider interface{ Pid() int }
	if p, ok := any(peer).(pidProvider); ok {
		return p.Pid()
	}
	return 0
}

// ID returns the server id.
func (ms *ManagedServer) ID() string { return ms.def.ID }

// DisplayName returns the configured name, falling back to the id.
func (ms *ManagedServer) DisplayName() string {
	if ms.def.Name != "" {
		return ms.def.Name
	}
	return ms.def.ID
}

// NeedsRefresh reports whether the tool cache entry for this server is
// stale (spec §4.1: set at launch, and whenever tools/list_changed fires).
func (ms *ManagedServer) NeedsRefresh() bool { return ms.needsRefresh.Load() }

// RefreshTools re-lists tools from the upstream peer and clears the
// needs-refresh flag.
func (ms *ManagedServer) RefreshTools(ctx context.Context) ([]mcp.Tool, error) {
	ms.runtimeMu.Lock()
	peer := ms.peer
	ms.runtimeMu.Unlock()
	if peer == nil {
		return nil, mcperrors.UpstreamTransportf(ms.def.ID, nil, "server connection is shutting down")
	}

	result, err := peer.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, mcperrors.UpstreamTransportf(ms.def.ID, err, "failed to list tools for %s", ms.def.ID)
	}

	ms.toolsMu.Lock()
	ms.tools = result.Tools
	ms.toolsMu.Unlock()
	ms.needsRefresh.Store(false)
	return result.Tools, nil
}

// ToolCount returns the length of the last-known tools snapshot.
func (ms *ManagedServer) ToolCount() int {
	ms.toolsMu.RLock()
	defer ms.toolsMu.RUnlock()
	return len(ms.tools)
}

// CallTool forwards a tool invocation to the upstream peer unchanged,
// bubbling the CallToolResult (including is_error) verbatim (spec §4.1).
func (ms *ManagedServer) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ms.runtimeMu.Lock()
	peer := ms.peer
	ms.runtimeMu.Unlock()
	if peer == nil {
		return nil, mcperrors.UpstreamTransportf(ms.def.ID, nil, "server connection is shutting down")
	}
	result, err := peer.CallTool(ctx, req)
	if err != nil {
		return nil, mcperrors.Internalf(err, "call to tool %s on server %s failed", req.Params.Name, ms.def.ID)
	}
	return result, nil
}

// Shutdown cancels the upstream connection and best-effort removes the
// pid file; kill-on-drop for stdio children is the client library's
// responsibility once Close() is called (spec §5's correctness property).
func (ms *ManagedServer) Shutdown() error {
	if ms.stopSupervise != nil {
		ms.superviseOnce.Do(func() { close(ms.stopSupervise) })
	}

	ms.runtimeMu.Lock()
	defer ms.runtimeMu.Unlock()

	var closeErr error
	if ms.peer != nil {
		closeErr = ms.peer.Close()
		ms.peer = nil
	}
	if ms.pidPath != "" {
		if err := os.Remove(ms.pidPath); err != nil && !os.IsNotExist(err) {
			ms.logger.Warn("failed to remove pid file", "path", ms.pidPath, "error", err)
		}
	}
	if closeErr != nil {
		return mcperrors.UpstreamTransportf(ms.def.ID, closeErr, "error while closing connection to %s", ms.def.ID)
	}
	return nil
}
