// main is the mcp-center daemon entrypoint: flag/env parsing, structured
// logging, and startup/shutdown of the Server Manager, Control Plane, and
// Operator RPC, grounded on the original mcp-center's daemon/serve.rs and
// the teacher's cmd/mcp-broker-router/main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wangnov/mcp-center/internal/control"
	"github.com/wangnov/mcp-center/internal/corelog"
	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/manager"
	"github.com/wangnov/mcp-center/internal/project"
	"github.com/wangnov/mcp-center/internal/rpcserver"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}

	flags := pflag.NewFlagSet("mcp-center", pflag.ExitOnError)
	flags.String("root", "", "override the mcp-center root directory")
	flags.String("log-level", "info", "debug, info, warn, or error")
	flags.String("log-format", "text", "text or json")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	viper.SetEnvPrefix("MCP_CENTER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := corelog.New(viper.GetString("log-level"), viper.GetString("log-format"))

	if err := run(logger); err != nil {
		logger.Error("daemon terminated with error", "error", err)
		os.Exit(1)
	}
	logger.Info("daemon exited cleanly")
}

func run(logger *slog.Logger) error {
	root := viper.GetString("root")
	if root == "" {
		resolved, err := layout.DefaultRoot()
		if err != nil {
			return err
		}
		root = resolved
	}
	l := layout.New(root)
	if err := l.Ensure(); err != nil {
		return err
	}
	logger.Info("resolved workspace root", "root", root)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := project.NewRegistry(l)

	mgr := manager.New(l, corelog.Component(logger, "manager"))
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server manager: %w", err)
	}

	plane, err := control.New(l, mgr, reg, corelog.Component(logger, "control"))
	if err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	go func() {
		if err := plane.Serve(ctx); err != nil {
			logger.Error("control plane stopped with error", "error", err)
		}
	}()

	rpc, err := rpcserver.New(l, mgr, corelog.Component(logger, "rpc"))
	if err != nil {
		return fmt.Errorf("failed to start operator RPC: %w", err)
	}
	go func() {
		if err := rpc.Serve(ctx); err != nil {
			logger.Error("operator RPC stopped with error", "error", err)
		}
	}()

	stopWatch := watchServerConfigs(ctx, l, mgr, corelog.Component(logger, "config-watch"))
	defer stopWatch()

	logger.Info("daemon ready, control socket and RPC socket listening",
		"control_socket", l.DaemonSocketPath(), "rpc_socket", l.DaemonRPCSocketPath())

	<-ctx.Done()
	logger.Info("received shutdown signal, shutting down daemon")

	rpc.Shutdown()
	plane.Shutdown()
	mgr.Shutdown()

	return nil
}

// watchServerConfigs watches the servers directory for TOML changes and
// reconciles the Server Manager against disk, mirroring the teacher's
// fsnotify.WatchConfig wiring in cmd/mcp-broker-router/main.go.
func watchServerConfigs(ctx context.Context, l layout.Layout, mgr *manager.Manager, logger *slog.Logger) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("failed to start config watcher, hot-reload disabled", "error", err)
		return func() {}
	}
	if err := watcher.Add(l.ServersDir()); err != nil {
		logger.Warn("failed to watch servers directory, hot-reload disabled", "error", err)
		_ = watcher.Close()
		return func() {}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(event.Name) != ".toml" {
					continue
				}
				logger.Info("server config changed, reloading", "file", event.Name, "op", event.Op.String())
				if err := mgr.Reload(ctx); err != nil {
					logger.Warn("failed to reload server configs", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return func() { _ = watcher.Close() }
}
