package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/manager"
	"github.com/wangnov/mcp-center/internal/project"
)

func newTestPlane(t *testing.T) (*Plane, layout.Layout) {
	t.Helper()
	l := layout.New(t.TempDir())
	require.NoError(t, l.Ensure())
	m := manager.New(l, quietLogger())
	reg := project.NewRegistry(l)
	plane, err := New(l, m, reg, quietLogger())
	require.NoError(t, err)
	return plane, l
}

// TestHandshake_FreshProjectAllowsAll covers S1: a brand new project gets a
// BridgeReady with no servers configured (allow-all over an empty set).
func TestHandshake_FreshProjectAllowsAll(t *testing.T) {
	plane, l := newTestPlane(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = plane.Serve(ctx) }()
	defer plane.Shutdown()

	conn, err := net.Dial("unix", l.DaemonSocketPath())
	require.NoError(t, err)
	defer conn.Close()

	hello, _ := json.Marshal(map[string]any{
		"type":         "bridge_hello",
		"project_path": "/tmp/fresh-project",
	})
	_, err = conn.Write(append(hello, '\n'))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var env controlEnvelope
	require.NoError(t, json.Unmarshal([]byte(line), &env))
	assert.Equal(t, envelopeReady, env.Type)
	assert.NotEmpty(t, env.ProjectID)
	assert.Empty(t, env.AllowedServerIDs)
}

// TestHandshake_RejectsNonHelloFirstMessage covers the handshake-violation
// edge case: anything other than bridge_hello as the first line.
func TestHandshake_RejectsNonHelloFirstMessage(t *testing.T) {
	plane, l := newTestPlane(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = plane.Serve(ctx) }()
	defer plane.Shutdown()

	conn, err := net.Dial("unix", l.DaemonSocketPath())
	require.NoError(t, err)
	defer conn.Close()

	bogus, _ := json.Marshal(map[string]any{"type": "ping"})
	_, err = conn.Write(append(bogus, '\n'))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var env controlEnvelope
	require.NoError(t, json.Unmarshal([]byte(line), &env))
	assert.Equal(t, envelopeError, env.Type)
}

func TestParseFileURI_RejectsMalformed(t *testing.T) {
	_, ok := parseFileURI("not-a-uri")
	assert.False(t, ok)
}
