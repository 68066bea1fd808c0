package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/wangnov/mcp-center/internal/control"
)

// Handshake performs the bridge_hello / bridge_ready exchange over a
// freshly connected control socket (spec §4.2 step 1-3, §4.4).
func Handshake(conn net.Conn, projectPath string, logger *slog.Logger) error {
	hello := control.BridgeHello{
		ProjectPath: projectPath,
		Agent:       DetectAgentName(),
		BridgePID:   os.Getpid(),
		Metadata:    GatherMetadata(),
	}

	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		control.BridgeHello
	}{Type: "bridge_hello", BridgeHello: hello})
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to send bridge_hello: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return fmt.Errorf("daemon closed control channel before responding: %w", err)
	}

	var env struct {
		Type             string   `json:"type"`
		ProjectID        string   `json:"project_id"`
		ProjectPath      string   `json:"project_path"`
		AllowedServerIDs []string `json:"allowed_server_ids"`
		Message          string   `json:"message"`
	}
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return fmt.Errorf("invalid response from daemon: %w", err)
	}

	switch env.Type {
	case "bridge_ready":
		logger.Info("connected to daemon", "project_id", env.ProjectID, "servers", env.AllowedServerIDs)
		return nil
	case "error":
		return fmt.Errorf("daemon rejected connection: %s", env.Message)
	default:
		return fmt.Errorf("unexpected control response: %q", env.Type)
	}
}

// TunnelStdio copies stdin to conn and conn to stdout until either
// direction hits EOF or the process receives an interrupt (spec §4.4
// "stdio<->socket tunnel").
func TunnelStdio(conn net.Conn, logger *slog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	var once sync.Once
	closeConn := func() { once.Do(func() { _ = conn.Close() }) }

	go func() {
		_, err := io.Copy(conn, os.Stdin)
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(os.Stdout, conn)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		closeConn()
		return err
	case <-sigCh:
		logger.Warn("received interrupt, closing bridge")
		closeConn()
		return nil
	}
}
