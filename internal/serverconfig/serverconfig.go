// Package serverconfig defines the ServerDefinition data model and its
// one-file-per-server TOML persistence, grounded on the original
// mcp-center's config/server.rs.
package serverconfig

import (
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/mcperrors"
)

// Protocol identifies how the daemon talks to an upstream MCP server.
type Protocol string

const (
	ProtocolStdio Protocol = "stdio"
	ProtocolSSE   Protocol = "sse"
	ProtocolHTTP  Protocol = "http"
)

// Definition is a single upstream MCP server's configuration, persisted one
// per file under <root>/config/servers/<id>.toml.
type Definition struct {
	ID       string            `toml:"id"`
	Name     string            `toml:"name"`
	Protocol Protocol          `toml:"protocol"`
	Command  string            `toml:"command,omitempty"`
	Args     []string          `toml:"args,omitempty"`
	Env      map[string]string `toml:"env,omitempty"`
	Endpoint string            `toml:"endpoint,omitempty"`
	Headers  map[string]string `toml:"headers,omitempty"`
	Enabled  bool              `toml:"enabled"`
}

// document mirrors the original's accepted "wrapped or bare" TOML shape:
// either a top-level [mcp_server] table, or the fields directly at the
// document root.
type document struct {
	MCPServer *Definition `toml:"mcp_server"`
	Definition
}

// Validate enforces the invariants named in spec §6/§7 (P2): name
// non-empty; stdio requires a non-empty command; sse/http require a
// parseable endpoint.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return mcperrors.ConfigInvalidf(d.ID, "server name cannot be empty")
	}
	switch d.Protocol {
	case ProtocolStdio:
		if strings.TrimSpace(d.Command) == "" {
			return mcperrors.ConfigInvalidf(d.ID, "server command cannot be empty")
		}
	case ProtocolSSE, ProtocolHTTP:
		endpoint := strings.TrimSpace(d.Endpoint)
		if endpoint == "" {
			return mcperrors.ConfigInvalidf(d.ID, "server endpoint is required for remote protocols")
		}
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return mcperrors.ConfigInvalidf(d.ID, "invalid server endpoint %q", endpoint)
		}
	default:
		return mcperrors.ConfigInvalidf(d.ID, "unsupported protocol %q", d.Protocol)
	}
	return nil
}

// LoadFile reads and validates a server definition from a TOML file,
// accepting both the wrapped [mcp_server] and bare top-level shapes.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mcperrors.Internalf(err, "failed to read config file %s", path)
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, mcperrors.Internalf(err, "failed to parse TOML server config at %s", path)
	}

	def := doc.Definition
	if doc.MCPServer != nil {
		def = *doc.MCPServer
	}
	def.Name = strings.TrimSpace(def.Name)
	def.Endpoint = strings.TrimSpace(def.Endpoint)
	if def.Protocol == "" {
		def.Protocol = ProtocolStdio
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// SaveFile persists a definition in the wrapped [mcp_server] shape, matching
// the canonical TOML schema in spec §6.
func SaveFile(path string, def *Definition) error {
	doc := struct {
		MCPServer *Definition `toml:"mcp_server"`
	}{MCPServer: def}

	data, err := toml.Marshal(doc)
	if err != nil {
		return mcperrors.Internalf(err, "failed to serialise server definition to TOML")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return mcperrors.Internalf(err, "failed to create directory %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return mcperrors.Internalf(err, "failed to write server config file %s", path)
	}
	return nil
}

// List enumerates every *.toml server definition under the servers
// directory, sorted by display name then id (matching the original's
// list_server_configs ordering).
func List(l layout.Layout) ([]*Definition, error) {
	entries, err := os.ReadDir(l.ServersDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, mcperrors.Internalf(err, "failed to read directory %s", l.ServersDir())
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		def, err := LoadFile(filepath.Join(l.ServersDir(), entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Name != defs[j].Name {
			return defs[i].Name < defs[j].Name
		}
		return defs[i].ID < defs[j].ID
	})
	return defs, nil
}

// Load reads a single server definition by id.
func Load(l layout.Layout, id string) (*Definition, error) {
	path := l.ServerConfigPath(id)
	if _, err := os.Stat(path); err != nil {
		return nil, mcperrors.NotFoundf(id, "server configuration %q not found", id)
	}
	return LoadFile(path)
}

// Remove deletes a server definition and its auxiliary log/pid files.
func Remove(l layout.Layout, id string) error {
	path := l.ServerConfigPath(id)
	if _, err := os.Stat(path); err != nil {
		return mcperrors.NotFoundf(id, "server configuration %q not found", id)
	}
	if err := os.Remove(path); err != nil {
		return mcperrors.Internalf(err, "failed to remove %s", path)
	}
	_ = os.Remove(l.ServerLogPath(id))
	_ = os.Remove(l.ServerPIDPath(id))
	return nil
}

// IDs renders just the id column of List, in List's order. The Control
// Plane does not use it: it seeds a brand-new ProjectRecord's
// allowed_server_ids from the Server Manager's running servers instead.
func IDs(l layout.Layout) ([]string, error) {
	defs, err := List(l)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// String renders the protocol for log/error messages.
func (p Protocol) String() string { return string(p) }
