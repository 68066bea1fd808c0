package control

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/manager"
	"github.com/wangnov/mcp-center/internal/project"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHost(t *testing.T) *Host {
	t.Helper()
	l := layout.New(t.TempDir())
	require.NoError(t, l.Ensure())
	m := manager.New(l, quietLogger())
	reg := project.NewRegistry(l)
	cell := newIDCell(project.FromPath("/tmp/project"))
	return newHost(m, reg, cell, quietLogger())
}

func TestHost_Initialize(t *testing.T) {
	h := newTestHost(t)
	result, rpcErr := h.HandleRequest(context.Background(), "initialize", nil)
	require.Nil(t, rpcErr)
	init, ok := result.(initializeResult)
	require.True(t, ok)
	assert.Equal(t, mcp.LATEST_PROTOCOL_VERSION, init.ProtocolVersion)
	assert.Equal(t, "mcp-center", init.ServerInfo.Name)
	assert.Contains(t, init.Instructions, "no upstream servers")
}

func TestHost_Ping(t *testing.T) {
	h := newTestHost(t)
	_, rpcErr := h.HandleRequest(context.Background(), "ping", nil)
	assert.Nil(t, rpcErr)
}

func TestHost_UnknownMethod(t *testing.T) {
	h := newTestHost(t)
	_, rpcErr := h.HandleRequest(context.Background(), "resources/list", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, codeMethodNotFound, rpcErr.Code)
}

func TestHost_ListTools_EmptyManager(t *testing.T) {
	h := newTestHost(t)
	result, rpcErr := h.HandleRequest(context.Background(), "tools/list", nil)
	require.Nil(t, rpcErr)
	list, ok := result.(listToolsResult)
	require.True(t, ok)
	assert.Empty(t, list.Tools)
}

func TestHost_Instructions_NoServers(t *testing.T) {
	h := newTestHost(t)
	assert.Contains(t, h.instructions(), "no upstream servers")
}

func TestIDCell_GetSet(t *testing.T) {
	cell := newIDCell(project.FromPath("/a"))
	assert.Equal(t, project.FromPath("/a"), cell.Get())
	cell.Set(project.FromPath("/b"))
	assert.Equal(t, project.FromPath("/b"), cell.Get())
}
