package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/mcperrors"
	"github.com/wangnov/mcp-center/internal/serverconfig"
)

// Manager is the Server Manager (spec §4.1): it owns every ManagedServer,
// aggregates their tools into a single namespace, and is the only path by
// which a Host session reaches an upstream.
type Manager struct {
	layout layout.Layout
	logger *slog.Logger

	mu      sync.RWMutex
	servers map[string]*ManagedServer
	order   []string // insertion order by id, for deterministic collision resolution

	cacheMu sync.RWMutex
	entries []Entry
	index   map[string]string // tool name -> server id
}

// New constructs an empty Manager. Call Start to launch enabled servers.
func New(l layout.Layout, logger *slog.Logger) *Manager {
	return &Manager{
		layout:  l,
		logger:  logger,
		servers: make(map[string]*ManagedServer),
		index:   make(map[string]string),
	}
}

// Start launches every enabled server definition on disk. A single
// server's launch failure is logged and skipped; it never aborts the
// others (spec §4.1 "best-effort startup").
func (m *Manager) Start(ctx context.Context) error {
	defs, err := serverconfig.List(m.layout)
	if err != nil {
		return err
	}

	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		if err := m.launchAndRegister(ctx, *def); err != nil {
			m.logger.Warn("failed to start server", "server_id", def.ID, "error", err)
		}
	}

	m.ForceRefreshToolCache(ctx)
	return nil
}

func (m *Manager) launchAndRegister(ctx context.Context, def serverconfig.Definition) error {
	ms, err := Launch(ctx, m.layout, def, m.logger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.servers[def.ID]; !exists {
		m.order = append(m.order, def.ID)
	}
	m.servers[def.ID] = ms
	m.mu.Unlock()
	return nil
}

// EnsureRunning starts the named server if it is not already running,
// reporting whether it performed a start (idempotent per spec §4.1).
func (m *Manager) EnsureRunning(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	_, running := m.servers[id]
	m.mu.RUnlock()
	if running {
		return false, nil
	}

	def, err := serverconfig.Load(m.layout, id)
	if err != nil {
		return false, err
	}
	if err := m.launchAndRegister(ctx, *def); err != nil {
		return false, err
	}
	m.ForceRefreshToolCache(ctx)
	return true, nil
}

// Disable stops the named server if running, reporting whether it
// performed a stop (idempotent per spec §4.1).
func (m *Manager) Disable(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	ms, running := m.servers[id]
	if running {
		delete(m.servers, id)
		m.order = removeID(m.order, id)
	}
	m.mu.Unlock()
	if !running {
		return false, nil
	}

	if err := ms.Shutdown(); err != nil {
		m.logger.Warn("best-effort shutdown reported an error", "server_id", id, "error", err)
	}
	m.ForceRefreshToolCache(ctx)
	return true, nil
}

func removeID(order []string, id string) []string {
	out := order[:0:0]
	for _, v := range order {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Reload reconciles running servers against the on-disk definitions: newly
// enabled or newly added servers are launched, disabled or removed ones are
// stopped, and the tool cache is rebuilt once at the end. Used by the
// fsnotify watch on the servers directory (spec §10 "config hot-reload").
func (m *Manager) Reload(ctx context.Context) error {
	defs, err := serverconfig.List(m.layout)
	if err != nil {
		return err
	}

	desired := make(map[string]serverconfig.Definition, len(defs))
	for _, def := range defs {
		if def.Enabled {
			desired[def.ID] = *def
		}
	}

	for _, id := range m.ListServers() {
		if _, wanted := desired[id]; !wanted {
			m.mu.Lock()
			ms, running := m.servers[id]
			if running {
				delete(m.servers, id)
				m.order = removeID(m.order, id)
			}
			m.mu.Unlock()
			if running {
				if err := ms.Shutdown(); err != nil {
					m.logger.Warn("best-effort shutdown reported an error", "server_id", id, "error", err)
				}
			}
		}
	}

	for id, def := range desired {
		m.mu.RLock()
		_, running := m.servers[id]
		m.mu.RUnlock()
		if running {
			continue
		}
		if err := m.launchAndRegister(ctx, def); err != nil {
			m.logger.Warn("failed to start server", "server_id", id, "error", err)
		}
	}

	m.ForceRefreshToolCache(ctx)
	return nil
}

// ListServers returns a snapshot of every currently running server id,
// in launch order.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// snapshotServers returns running ManagedServers in a stable order.
func (m *Manager) snapshotServers() []*ManagedServer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ManagedServer, 0, len(m.order))
	for _, id := range m.order {
		if ms, ok := m.servers[id]; ok {
			out = append(out, ms)
		}
	}
	return out
}

// ensureFreshToolCache refreshes any server whose tools are stale, or the
// whole cache if it has never been built (spec §4.1's "needs_refresh").
func (m *Manager) ensureFreshToolCache(ctx context.Context) {
	servers := m.snapshotServers()

	m.cacheMu.RLock()
	empty := m.entries == nil
	m.cacheMu.RUnlock()

	dirty := empty
	if !dirty {
		for _, ms := range servers {
			if ms.NeedsRefresh() {
				dirty = true
				break
			}
		}
	}
	if dirty {
		m.ForceRefreshToolCache(ctx)
	}
}

// ForceRefreshToolCache unconditionally rebuilds the tool cache by
// re-listing every running server's tools. On a duplicate tool name, the
// server that appears later in launch order wins, and the collision is
// logged (spec §4.1/P3: "last write wins in iteration order").
func (m *Manager) ForceRefreshToolCache(ctx context.Context) {
	servers := m.snapshotServers()

	order := make([]string, 0, len(servers))
	names := make(map[string]string, len(servers))
	byServer := make(map[string][]mcp.Tool, len(servers))

	for _, ms := range servers {
		tools, err := ms.RefreshTools(ctx)
		if err != nil {
			m.logger.Warn("failed to refresh tools for server", "server_id", ms.ID(), "error", err)
			continue
		}
		order = append(order, ms.ID())
		names[ms.ID()] = ms.DisplayName()
		byServer[ms.ID()] = tools
	}

	newEntries, newIndex := buildToolCache(order, names, byServer, func(tool, prev, next string) {
		m.logger.Warn("duplicate tool name detected; latest definition wins", "tool", tool, "previous_server", prev, "server_id", next)
	})

	m.cacheMu.Lock()
	m.entries = newEntries
	m.index = newIndex
	m.cacheMu.Unlock()
}

// buildToolCache is the pure collision-resolution core of
// ForceRefreshToolCache: iterating servers in launch order, a tool name
// seen again from a later server overwrites the earlier one (spec §4.1/P3
// "last write wins in iteration order"), reported via onCollision.
func buildToolCache(order []string, names map[string]string, byServer map[string][]mcp.Tool, onCollision func(tool, previousServer, serverID string)) ([]Entry, map[string]string) {
	index := make(map[string]string)
	for _, id := range order {
		for _, t := range byServer[id] {
			if existing, dup := index[t.Name]; dup && existing != id && onCollision != nil {
				onCollision(t.Name, existing, id)
			}
			index[t.Name] = id
		}
	}

	var entries []Entry
	for _, id := range order {
		for _, t := range byServer[id] {
			if index[t.Name] != id {
				continue
			}
			entries = append(entries, Entry{ServerID: id, ServerName: names[id], Tool: t})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Tool.Name < entries[j].Tool.Name })

	return entries, index
}

// ListTools returns the aggregated, decorated tool list, refreshing any
// stale server first (spec §4.1 ensure_tool_cache).
func (m *Manager) ListTools(ctx context.Context) []mcp.Tool {
	m.ensureFreshToolCache(ctx)

	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	out := make([]mcp.Tool, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Decorated())
	}
	return out
}

// ListEntries returns the aggregated, decorated tool list together with
// the owning server's id and display name, for consumers that need that
// attribution (the Operator RPC's ListTools/GetToolInfo, spec §6).
func (m *Manager) ListEntries(ctx context.Context) []Entry {
	m.ensureFreshToolCache(ctx)

	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ServerIDForTool resolves which server currently owns a tool name, used
// by the Host session for permission checks (spec §4.2) before dispatch.
func (m *Manager) ServerIDForTool(ctx context.Context, tool string) (string, bool) {
	m.ensureFreshToolCache(ctx)

	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	id, ok := m.index[tool]
	return id, ok
}

// ToolCount reports how many tools the named server currently contributes.
func (m *Manager) ToolCount(id string) int {
	m.mu.RLock()
	ms, ok := m.servers[id]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return ms.ToolCount()
}

// CallTool routes a tools/call request to the owning server, returning
// MethodNotFound-shaped error if no server currently provides the tool
// (spec §4.1).
func (m *Manager) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := m.ServerIDForTool(ctx, req.Params.Name)
	if !ok {
		return nil, mcperrors.NotFoundf(req.Params.Name, "unknown tool %q", req.Params.Name)
	}

	m.mu.RLock()
	ms, running := m.servers[id]
	m.mu.RUnlock()
	if !running {
		return nil, mcperrors.NotFoundf(id, "server %q for tool %q is not running", id, req.Params.Name)
	}
	return ms.CallTool(ctx, req)
}

// Shutdown stops every running server concurrently, best-effort (spec §5).
func (m *Manager) Shutdown() {
	servers := m.snapshotServers()

	var wg sync.WaitGroup
	for _, ms := range servers {
		wg.Add(1)
		go func(ms *ManagedServer) {
			defer wg.Done()
			if err := ms.Shutdown(); err != nil {
				m.logger.Warn("error shutting down server", "server_id", ms.ID(), "error", err)
			}
		}(ms)
	}
	wg.Wait()

	m.mu.Lock()
	m.servers = make(map[string]*ManagedServer)
	m.order = nil
	m.mu.Unlock()
}
