package project

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/wangnov/mcp-center/internal/mcperrors"
)

// ToolPermission is the closed tagged variant
// All | AllowList{tools} | DenyList{tools} from spec §3/§9 — implemented as
// a discriminated struct rather than open inheritance.
type ToolPermission struct {
	Type  string   `toml:"type"`
	Tools []string `toml:"tools,omitempty"`
}

const (
	PermissionAll       = "All"
	PermissionAllowList = "AllowList"
	PermissionDenyList  = "DenyList"
)

// Allows reports whether tool is permitted under this ToolPermission.
func (p ToolPermission) Allows(tool string) bool {
	switch p.Type {
	case PermissionAllowList:
		return contains(p.Tools, tool)
	case PermissionDenyList:
		return !contains(p.Tools, tool)
	default: // All, or an unrecognised/zero value defaults to allow
		return true
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ToolCustomization overrides a tool's surfaced description for a project.
type ToolCustomization struct {
	ToolName    string `toml:"tool_name"`
	Description string `toml:"description,omitempty"`
}

// Record is the persistent policy state for one project path (spec §3).
type Record struct {
	ID                string                    `toml:"id"`
	Path              string                    `toml:"path"`
	DisplayName       string                    `toml:"display_name,omitempty"`
	Agent             string                    `toml:"agent,omitempty"`
	AllowedServerIDs  []string                  `toml:"allowed_server_ids"`
	AllowedServerTool map[string]ToolPermission `toml:"allowed_server_tools,omitempty"`
	ToolCustomization []ToolCustomization        `toml:"tool_customizations,omitempty"`
	CreatedAt         int64                     `toml:"created_at"`
	LastSeenAt        int64                     `toml:"last_seen_at"`
	Metadata          map[string]string         `toml:"metadata,omitempty"`
}

// recordDocument additionally accepts the "allowed_servers" alias for
// allowed_server_ids on load, matching the original's
// #[serde(alias = "allowed_servers")].
type recordDocument struct {
	Record
	AllowedServersAlias []string `toml:"allowed_servers,omitempty"`
}

// Clone returns a deep-enough copy suitable for inheriting policy fields
// into a new record during roots-based correction (§4.2).
func (r *Record) Clone() *Record {
	clone := *r
	clone.AllowedServerIDs = append([]string(nil), r.AllowedServerIDs...)
	clone.AllowedServerTool = make(map[string]ToolPermission, len(r.AllowedServerTool))
	for k, v := range r.AllowedServerTool {
		clone.AllowedServerTool[k] = v
	}
	clone.ToolCustomization = append([]ToolCustomization(nil), r.ToolCustomization...)
	clone.Metadata = make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// Touch refreshes LastSeenAt to now.
func (r *Record) Touch(now time.Time) {
	r.LastSeenAt = now.Unix()
}

// DescriptionOverride returns the configured description override for tool,
// if any (spec §4.3 "Description override").
func (r *Record) DescriptionOverride(tool string) (string, bool) {
	for _, c := range r.ToolCustomization {
		if c.ToolName == tool && c.Description != "" {
			return c.Description, true
		}
	}
	return "", false
}

func loadRecordFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mcperrors.Internalf(err, "failed to read project config file %s", path)
	}
	var doc recordDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, mcperrors.Internalf(err, "failed to parse project config file %s", path)
	}
	rec := doc.Record
	if len(rec.AllowedServerIDs) == 0 && len(doc.AllowedServersAlias) > 0 {
		rec.AllowedServerIDs = doc.AllowedServersAlias
	}
	rec.Path = strings.TrimSpace(rec.Path)
	return &rec, nil
}

func saveRecordFile(path string, rec *Record) error {
	data, err := toml.Marshal(rec)
	if err != nil {
		return mcperrors.Internalf(err, "failed to serialise project record to TOML")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return mcperrors.Internalf(err, "failed to create directory %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return mcperrors.Internalf(err, "failed to write project config file %s", path)
	}
	return nil
}
