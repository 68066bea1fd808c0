// Package rpcserver implements the Operator RPC: a local, newline-JSON
// control surface over daemon.rpc.sock that a CLI uses to inspect the
// running daemon (list tools, inspect one tool, ping), grounded on the
// original mcp-center's daemon/rpc.rs.
package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/manager"
)

// request is the wire shape of one operator request: an internally-tagged
// enum in the original, a flat method+params envelope here.
type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Token  string          `json:"token,omitempty"`
}

// response is the wire shape of one operator reply.
type response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(data any) response       { return response{Status: "ok", Data: data} }
func errResp(msg string) response { return response{Status: "error", Message: msg} }

// ToolInfo is one tool's operator-facing description.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ServerName  string `json:"server_name"`
}

type listToolsParams struct {
	ServerName string `json:"server_name,omitempty"`
}

type getToolInfoParams struct {
	ToolName string `json:"tool_name"`
}

// Server is the Operator RPC listener.
type Server struct {
	layout  layout.Layout
	manager *manager.Manager
	logger  *slog.Logger
	secret  []byte

	listener net.Listener
	wg       sync.WaitGroup
}

// New binds daemon.rpc.sock, generating (or reusing) the auth secret and
// minting a fresh bearer token for this daemon instance.
func New(l layout.Layout, m *manager.Manager, logger *slog.Logger) (*Server, error) {
	socketPath := l.DaemonRPCSocketPath()

	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to bind operator RPC socket %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("failed to chmod operator RPC socket %s: %w", socketPath, err)
	}

	secret, err := loadOrCreateSecret(l)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	if _, err := IssueToken(l, secret); err != nil {
		_ = ln.Close()
		return nil, err
	}

	return &Server{layout: l, manager: m, logger: logger, secret: secret, listener: ln}, nil
}

// Serve runs the accept loop until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Shutdown closes the listener and unlinks the socket, best-effort.
func (s *Server) Shutdown() {
	_ = s.listener.Close()
	s.wg.Wait()
	_ = os.Remove(s.layout.DaemonRPCSocketPath())
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.handleLine(ctx, conn, line)
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handleLine(ctx context.Context, conn net.Conn, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reply(conn, errResp(fmt.Sprintf("invalid request: %s", err)))
		return
	}

	if !verifyToken(s.secret, req.Token) {
		s.reply(conn, errResp("unauthorized: missing or invalid token"))
		return
	}

	s.logger.Debug("received RPC request", "method", req.Method)
	s.reply(conn, s.dispatch(ctx, req))
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	switch req.Method {
	case "ListTools":
		var params listToolsParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return errResp(fmt.Sprintf("invalid params: %s", err))
			}
		}
		return ok(s.listTools(ctx, params.ServerName))
	case "GetToolInfo":
		var params getToolInfoParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResp(fmt.Sprintf("invalid params: %s", err))
		}
		info, found := s.getToolInfo(ctx, params.ToolName)
		if !found {
			return errResp(fmt.Sprintf("failed to get tool info: tool %q not found", params.ToolName))
		}
		return ok(info)
	case "Ping":
		return ok("pong")
	default:
		return errResp(fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) listTools(ctx context.Context, serverName string) []ToolInfo {
	entries := s.manager.ListEntries(ctx)
	tools := make([]ToolInfo, 0, len(entries))
	for _, e := range entries {
		if serverName != "" && e.ServerName != serverName {
			continue
		}
		tools = append(tools, ToolInfo{Name: e.Tool.Name, Description: e.Tool.Description, ServerName: e.ServerName})
	}
	return tools
}

func (s *Server) getToolInfo(ctx context.Context, toolName string) (ToolInfo, bool) {
	for _, e := range s.manager.ListEntries(ctx) {
		if e.Tool.Name == toolName {
			return ToolInfo{Name: e.Tool.Name, Description: e.Tool.Description, ServerName: e.ServerName}, true
		}
	}
	return ToolInfo{}, false
}

func (s *Server) reply(conn net.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
