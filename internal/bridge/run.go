package bridge

import (
	"log/slog"

	"github.com/wangnov/mcp-center/internal/layout"
)

// Run drives one bridge session end-to-end: detect the project path,
// connect to (or launch) the daemon, perform the handshake, then tunnel
// stdio until the connection or the process ends (spec §4.4).
func Run(opts Options, logger *slog.Logger) error {
	l, err := resolveLayout(opts)
	if err != nil {
		return err
	}
	if err := l.Ensure(); err != nil {
		return err
	}

	projectPath, err := DetectProjectPath()
	if err != nil {
		return err
	}
	logger.Debug("detected project path", "path", projectPath)

	conn, err := ConnectOrLaunch(l, opts, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := Handshake(conn, projectPath, logger); err != nil {
		return err
	}

	return TunnelStdio(conn, logger)
}

func resolveLayout(opts Options) (layout.Layout, error) {
	if opts.Root != "" {
		return layout.New(opts.Root), nil
	}
	root, err := layout.DefaultRoot()
	if err != nil {
		return layout.Layout{}, err
	}
	return layout.New(root), nil
}
