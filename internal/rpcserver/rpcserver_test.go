package rpcserver

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangnov/mcp-center/internal/manager"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	l := testLayout(t)
	m := manager.New(l, quietLogger())
	secret, err := loadOrCreateSecret(l)
	require.NoError(t, err)
	return &Server{layout: l, manager: m, logger: quietLogger(), secret: secret}
}

func TestDispatch_Ping(t *testing.T) {
	s := testServer(t)
	resp := s.dispatch(context.Background(), request{Method: "Ping"})
	assert.Equal(t, ok("pong"), resp)
}

func TestDispatch_UnknownMethod(t *testing.T) {
	s := testServer(t)
	resp := s.dispatch(context.Background(), request{Method: "Bogus"})
	assert.Equal(t, "error", resp.Status)
}

func TestDispatch_ListTools_EmptyManager(t *testing.T) {
	s := testServer(t)
	resp := s.dispatch(context.Background(), request{Method: "ListTools"})
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []ToolInfo{}, resp.Data)
}

func TestDispatch_GetToolInfo_NotFound(t *testing.T) {
	s := testServer(t)
	params, err := json.Marshal(getToolInfoParams{ToolName: "nope"})
	require.NoError(t, err)
	resp := s.dispatch(context.Background(), request{Method: "GetToolInfo", Params: params})
	assert.Equal(t, "error", resp.Status)
}

func TestHandleLine_RejectsMissingToken(t *testing.T) {
	s := testServer(t)
	conn1, conn2 := net.Pipe()
	defer conn1.Close()
	defer conn2.Close()

	go s.handleLine(context.Background(), conn1, []byte(`{"method":"Ping"}`+"\n"))

	buf := make([]byte, 256)
	n, err := conn2.Read(buf)
	require.NoError(t, err)
	var resp response
	require.NoError(t, json.Unmarshal(buf[:n], &resp))
	assert.Equal(t, "error", resp.Status)
}
