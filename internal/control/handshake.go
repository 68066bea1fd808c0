// Package control implements the Control Plane and Host session: the
// local-socket listener, the bridge hello/ready handshake, roots-based
// project-id correction, and the per-session MCP dispatch table, grounded
// on the original mcp-center's daemon/control.rs and daemon/host.rs.
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// BridgeHello is the first message a bridge sends on a freshly accepted
// control connection (spec §4.2 step 1).
type BridgeHello struct {
	ProjectPath string            `json:"project_path"`
	Agent       string            `json:"agent,omitempty"`
	BridgePID   int               `json:"bridge_pid,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BridgeReady is the daemon's reply once the project identity has been
// resolved and the record loaded-or-created (spec §4.2 step 3).
type BridgeReady struct {
	ProjectID        string   `json:"project_id"`
	ProjectPath      string   `json:"project_path"`
	AllowedServerIDs []string `json:"allowed_server_ids"`
}

// handshakeError is the daemon's reply on a protocol violation (spec §4.2
// step 4).
type handshakeError struct {
	Message string `json:"message"`
}

// controlEnvelope tags which of the three handshake shapes a line carries,
// matching the original's #[serde(tag = "type")] ControlMessage enum.
type controlEnvelope struct {
	Type             string            `json:"type"`
	ProjectPath      string            `json:"project_path,omitempty"`
	Agent            string            `json:"agent,omitempty"`
	BridgePID        int               `json:"bridge_pid,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ProjectID        string            `json:"project_id,omitempty"`
	AllowedServerIDs []string          `json:"allowed_server_ids,omitempty"`
	Message          string            `json:"message,omitempty"`
}

const (
	envelopeHello = "bridge_hello"
	envelopeReady = "bridge_ready"
	envelopeError = "error"
)

// readHello reads exactly one newline-terminated JSON line from reader
// (the connection's shared buffered reader, so later MCP framing doesn't
// lose any bytes buffered past the handshake line) and parses it as a
// BridgeHello, failing for any other message shape.
func readHello(conn net.Conn, reader *bufio.Reader, deadline time.Duration) (BridgeHello, error) {
	if deadline > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
	}
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return BridgeHello{}, fmt.Errorf("bridge closed connection during handshake: %w", err)
	}
	if deadline > 0 {
		_ = conn.SetReadDeadline(time.Time{})
	}

	var env controlEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return BridgeHello{}, fmt.Errorf("invalid control message: %w", err)
	}
	if env.Type != envelopeHello {
		return BridgeHello{}, fmt.Errorf("expected %s message, got %q", envelopeHello, env.Type)
	}
	return BridgeHello{
		ProjectPath: env.ProjectPath,
		Agent:       env.Agent,
		BridgePID:   env.BridgePID,
		Metadata:    env.Metadata,
	}, nil
}

func writeReady(conn net.Conn, ready BridgeReady) error {
	env := controlEnvelope{
		Type:             envelopeReady,
		ProjectID:        ready.ProjectID,
		ProjectPath:      ready.ProjectPath,
		AllowedServerIDs: ready.AllowedServerIDs,
	}
	return writeLine(conn, env)
}

func writeHandshakeError(conn net.Conn, message string) error {
	env := controlEnvelope{Type: envelopeError, Message: message}
	return writeLine(conn, env)
}

func writeLine(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
