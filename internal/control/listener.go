package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/manager"
	"github.com/wangnov/mcp-center/internal/mcperrors"
	"github.com/wangnov/mcp-center/internal/project"
)

const handshakeReadTimeout = 10 * time.Second

// Plane is the Control Plane: the accept loop bound to daemon.sock (spec
// §4.2 "Listener").
type Plane struct {
	layout   layout.Layout
	manager  *manager.Manager
	registry *project.Registry
	logger   *slog.Logger

	listener net.Listener

	wg sync.WaitGroup
}

// New binds the control socket, removing any stale socket file left
// behind by a prior, uncleanly-terminated daemon.
func New(l layout.Layout, m *manager.Manager, reg *project.Registry, logger *slog.Logger) (*Plane, error) {
	socketPath := l.DaemonSocketPath()

	if err := removeStaleSocket(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove stale control socket %s: %w", socketPath, err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to bind control socket %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("failed to chmod control socket %s: %w", socketPath, err)
	}

	return &Plane{layout: l, manager: m, registry: reg, logger: logger, listener: ln}, nil
}

// removeStaleSocket unlinks a leftover socket file if nothing is actually
// listening on it, matching the original's "stale socket with no listener"
// check (spec §4.2).
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("a daemon is already listening on %s", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Serve runs the accept loop until ctx is cancelled or the listener errs.
func (p *Plane) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = p.listener.Close()
	}()

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				p.wg.Wait()
				return nil
			default:
				return err
			}
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.handleConn(ctx, conn); err != nil {
				p.logger.Warn("control session ended with error", "error", err)
			}
		}()
	}
}

// Shutdown closes the listener and unlinks the socket file, best-effort.
func (p *Plane) Shutdown() {
	_ = p.listener.Close()
	p.wg.Wait()
	_ = os.Remove(p.layout.DaemonSocketPath())
}

func (p *Plane) handleConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 64*1024)
	hello, err := readHello(conn, reader, handshakeReadTimeout)
	if err != nil {
		violation := mcperrors.HandshakeViolationf("%v", err)
		_ = writeHandshakeError(conn, violation.Error())
		return violation
	}

	projectPath := canonicalizeBestEffort(hello.ProjectPath)
	initialID := project.FromPath(projectPath)

	knownServerIDs := p.manager.ListServers()
	rec, _, err := p.registry.LoadOrCreate(projectPath, knownServerIDs, hello.Agent, hello.BridgePID, hello.Metadata, time.Now())
	if err != nil {
		failure := mcperrors.Internalf(err, "failed to resolve project record for %s", projectPath)
		_ = writeHandshakeError(conn, failure.Error())
		return failure
	}

	ready := BridgeReady{ProjectID: rec.ID, ProjectPath: rec.Path, AllowedServerIDs: rec.AllowedServerIDs}
	if err := writeReady(conn, ready); err != nil {
		return err
	}

	idCell := newIDCell(initialID)
	host := newHost(p.manager, p.registry, idCell, p.logger)
	sess := newSession(conn, reader, host)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sess.run(ctx) }()

	p.correctProjectIDFromRoots(ctx, sess, idCell, projectPath, rec)

	return <-runErrCh
}

// canonicalizeBestEffort resolves symlinks/relative segments, retaining
// the raw path on failure (spec §4.2 step 2).
func canonicalizeBestEffort(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return real
}

// correctProjectIDFromRoots issues roots/list on the peer right after the
// session is live and reconciles the project id if the agent's actual
// workspace root differs from the path the bridge guessed (spec §4.2
// "Project-ID correction via roots", S4).
func (p *Plane) correctProjectIDFromRoots(ctx context.Context, sess *session, cell *idCell, initialPath string, initialRec *project.Record) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := sess.call(callCtx, "roots/list", struct{}{})
	if err != nil {
		return
	}

	var parsed struct {
		Roots []struct {
			URI string `json:"uri"`
		} `json:"roots"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil || len(parsed.Roots) == 0 {
		return
	}

	realPath, ok := parseFileURI(parsed.Roots[0].URI)
	if !ok {
		return
	}
	realPath = canonicalizeBestEffort(realPath)
	realID := project.FromPath(realPath)
	initialID := project.FromPath(initialPath)

	if realID == initialID {
		if initialRec.Path != realPath {
			initialRec.Path = realPath
			if err := p.registry.Store(initialRec); err != nil {
				p.logger.Warn("failed to update project path", "project_id", realID, "error", err)
			}
		}
		return
	}

	cell.Set(realID)

	if existing, err := p.registry.Load(realID.String()); err == nil {
		existing.Path = realPath
		existing.Touch(time.Now())
		if err := p.registry.Store(existing); err != nil {
			p.logger.Warn("failed to update existing project record during correction", "error", err)
		}
	} else {
		migrated := initialRec.Clone()
		migrated.ID = realID.String()
		migrated.Path = realPath
		migrated.Touch(time.Now())
		if err := p.registry.Store(migrated); err != nil {
			p.logger.Warn("failed to create migrated project record", "error", err)
		}
	}

	rel, relErr := filepath.Rel(initialPath, realPath)
	isDescendant := relErr == nil && rel != "." && rel != ".." &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator))
	if isDescendant && initialID != realID {
		if err := p.registry.Delete(initialID.String()); err != nil {
			p.logger.Warn("failed to delete superseded initial project record", "error", err)
		}
	}
}

// parseFileURI extracts the filesystem path from a file:// root URI,
// accepting an optional "localhost" authority (spec §4.2).
func parseFileURI(uri string) (string, bool) {
	uri = strings.TrimSpace(uri)
	rest, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return "", false
	}
	rest = strings.TrimPrefix(rest, "localhost")
	if !strings.HasPrefix(rest, "/") {
		return "", false
	}
	return rest, true
}
