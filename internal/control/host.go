package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wangnov/mcp-center/internal/manager"
	"github.com/wangnov/mcp-center/internal/mcperrors"
	"github.com/wangnov/mcp-center/internal/project"
)

// daemonVersion is surfaced in the Host's initialize response.
const daemonVersion = "0.1.0"

// idCell is the *mutable reference through a reader-writer lock* spec §9
// calls for: the handshake resolves an initial ProjectId, the session
// borrows this cell on every request, and roots resolution writes a
// corrected id into it exactly once.
type idCell struct {
	mu sync.RWMutex
	id project.ID
}

func newIDCell(id project.ID) *idCell {
	return &idCell{id: id}
}

func (c *idCell) Get() project.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *idCell) Set(id project.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Host is the daemon's MCP-server-role half of one bridge connection
// (spec §4.2 "Host session"). It answers initialize/ping/tools/list/
// tools/call and MethodNotFound's everything else.
type Host struct {
	manager  *manager.Manager
	registry *project.Registry
	projectID *idCell
	logger   *slog.Logger
}

func newHost(m *manager.Manager, reg *project.Registry, id *idCell, logger *slog.Logger) *Host {
	return &Host{manager: m, registry: reg, projectID: id, logger: logger}
}

// HandleRequest implements Dispatcher.
func (h *Host) HandleRequest(ctx context.Context, method string, params json.RawMessage) (any, *rpcError) {
	switch method {
	case "initialize":
		return h.initializeResult(), nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return h.listTools(ctx)
	case "tools/call":
		return h.callTool(ctx, params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

// HandleNotification implements Dispatcher. All notifications from the
// bridge side are silently accepted (spec §4.2).
func (h *Host) HandleNotification(string, json.RawMessage) {}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    map[string]any     `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

func (h *Host) initializeResult() initializeResult {
	return initializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      mcp.Implementation{Name: "mcp-center", Version: daemonVersion},
		Instructions:    h.instructions(),
	}
}

type listToolsResult struct {
	Tools []mcp.Tool `json:"tools"`
}

func (h *Host) listTools(ctx context.Context) (any, *rpcError) {
	entries := h.manager.ListTools(ctx)

	rec, _ := h.registry.Load(h.projectID.Get().String())

	filtered := make([]mcp.Tool, 0, len(entries))
	for _, tool := range entries {
		serverID, ok := h.manager.ServerIDForTool(ctx, tool.Name)
		if ok && !project.IsToolAllowed(rec, serverID, tool.Name) {
			continue
		}
		if rec != nil {
			if override, has := rec.DescriptionOverride(tool.Name); has {
				tool.Description = override
			}
		}
		filtered = append(filtered, tool)
	}
	return listToolsResult{Tools: filtered}, nil
}

func (h *Host) callTool(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var req mcp.CallToolRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req.Params); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: "invalid tools/call params: " + err.Error()}
		}
	}

	serverID, ok := h.manager.ServerIDForTool(ctx, req.Params.Name)
	if ok {
		rec, _ := h.registry.Load(h.projectID.Get().String())
		if !project.IsToolAllowed(rec, serverID, req.Params.Name) {
			denied := mcperrors.PermissionDeniedf(req.Params.Name,
				"tool %q from server %q is not allowed for this project", req.Params.Name, serverID)
			return nil, toRPCError(denied)
		}
	}

	result, err := h.manager.CallTool(ctx, req)
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

// toRPCError maps an mcperrors.Kind onto the JSON-RPC error code the MCP
// wire protocol expects (spec §7: PermissionDenied -> InvalidParams, an
// unknown tool (NotFound) -> MethodNotFound).
func toRPCError(err error) *rpcError {
	code := codeInternalError
	switch mcperrors.KindOf(err) {
	case mcperrors.PermissionDenied, mcperrors.ConfigInvalid:
		code = codeInvalidParams
	case mcperrors.NotFound:
		code = codeMethodNotFound
	}
	return &rpcError{Code: code, Message: err.Error()}
}

// instructions renders the human-readable initialize instructions naming
// every currently-managed server, mirroring the original's server_info().
func (h *Host) instructions() string {
	servers := h.manager.ListServers()
	if len(servers) == 0 {
		return "mcp-center: no upstream servers currently available."
	}
	return "mcp-center managed servers: " + strings.Join(servers, ", ")
}
