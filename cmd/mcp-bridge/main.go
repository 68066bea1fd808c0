// main is the mcp-center-bridge entrypoint: a thin stdio<->socket tunnel
// an editor/agent spawns per project, grounded on the original
// mcp-center's bridge/connect.rs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/wangnov/mcp-center/internal/bridge"
	"github.com/wangnov/mcp-center/internal/corelog"
)

func main() {
	flags := pflag.NewFlagSet("mcp-bridge", pflag.ExitOnError)
	root := flags.String("root", "", "override the mcp-center root directory")
	daemonPath := flags.String("daemon", "", "path to the mcp-center executable (for spawning serve mode)")
	logLevel := flags.String("log-level", "warn", "debug, info, warn, or error")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := corelog.New(*logLevel, "text")

	opts := bridge.Options{Root: *root, DaemonPath: *daemonPath}
	if err := bridge.Run(opts, logger); err != nil {
		logger.Error("bridge terminated with error", "error", err)
		os.Exit(1)
	}
}
