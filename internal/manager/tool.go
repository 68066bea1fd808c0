// Package manager implements the Server Manager: ManagedServer lifecycle,
// the tool cache and its collision policy, and call dispatch, grounded on
// the teacher's internal/broker/upstream/manager.go and the original
// mcp-center's daemon/server_manager.rs.
package manager

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const providerAnnotationPrefix = "[provided by "

// Entry is one (server-id, server-name, tool) triple surfaced to agents
// (spec §3 ToolEntry), rebuilt on every cache refresh.
type Entry struct {
	ServerID   string
	ServerName string
	Tool       mcp.Tool
}

// Decorated returns a copy of the tool descriptor with the provider
// annotation appended to its description exactly once — idempotent per
// spec §4.1/P6. A tool with no description gets a one-line "Provided by"
// description instead, which is likewise left alone on a repeat call.
func (e Entry) Decorated() mcp.Tool {
	tool := e.Tool
	note := providerAnnotationPrefix + e.ServerName + " (id: " + e.ServerID + ")]"
	fill := "Provided by " + e.ServerName + " (id: " + e.ServerID + ")."
	switch {
	case tool.Description == "":
		tool.Description = fill
	case tool.Description == fill, strings.Contains(tool.Description, providerAnnotationPrefix):
		// already decorated
	default:
		tool.Description += "\n" + note
	}
	return tool
}
