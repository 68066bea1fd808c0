package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/manager"
	"github.com/wangnov/mcp-center/internal/project"
)

// dialAndHandshake writes a bridge_hello for projectPath and returns the
// decoded controlEnvelope plus the live connection and its reader, so
// callers needing follow-on traffic (e.g. an outbound roots/list) keep
// using the same buffered reader instead of risking bytes stranded in a
// discarded one.
func dialAndHandshake(socketPath, projectPath string) (net.Conn, *bufio.Reader, controlEnvelope) {
	conn, err := net.Dial("unix", socketPath)
	Expect(err).NotTo(HaveOccurred())

	hello, _ := json.Marshal(map[string]any{"type": "bridge_hello", "project_path": projectPath})
	_, err = conn.Write(append(hello, '\n'))
	Expect(err).NotTo(HaveOccurred())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	Expect(err).NotTo(HaveOccurred())

	var env controlEnvelope
	Expect(json.Unmarshal([]byte(line), &env)).To(Succeed())
	return conn, reader, env
}

var _ = Describe("Fresh handshake, default allow-all", func() {
	// S1: a project with no prior record gets a BridgeReady covering every
	// server currently known to the manager (empty here; the multi-server
	// variant of this scenario is exercised at the manager layer's tool
	// cache tests, which cover collision ordering across real definitions).
	It("creates a project record and reports the known server set", func() {
		l := layout.New(GinkgoT().TempDir())
		Expect(l.Ensure()).To(Succeed())
		m := manager.New(l, quietLogger())
		reg := project.NewRegistry(l)
		plane, err := New(l, m, reg, quietLogger())
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = plane.Serve(ctx) }()
		defer plane.Shutdown()

		conn, _, env := dialAndHandshake(l.DaemonSocketPath(), "/tmp/fresh-project")
		defer conn.Close()

		Expect(env.Type).To(Equal(envelopeReady))
		Expect(env.ProjectID).NotTo(BeEmpty())
		Expect(env.AllowedServerIDs).To(BeEmpty())

		rec, err := reg.Load(env.ProjectID)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Path).To(Equal("/tmp/fresh-project"))
	})
})

var _ = Describe("Roots-based project-id correction", func() {
	// S4: the bridge's reported project_path can be a parent of the agent's
	// actual workspace root; once roots/list answers, the daemon migrates
	// the record to the real path and drops the superseded one.
	It("migrates the project record to the agent's real root", func() {
		l := layout.New(GinkgoT().TempDir())
		Expect(l.Ensure()).To(Succeed())
		m := manager.New(l, quietLogger())
		reg := project.NewRegistry(l)
		plane, err := New(l, m, reg, quietLogger())
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = plane.Serve(ctx) }()
		defer plane.Shutdown()

		conn, reader, env := dialAndHandshake(l.DaemonSocketPath(), "/home/u/work")
		defer conn.Close()

		initialID := env.ProjectID

		// The daemon issues roots/list on the peer right after the ready
		// envelope; respond with a root descending from the initial path.
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := reader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())

		var rootsReq rpcMessage
		Expect(json.Unmarshal([]byte(line), &rootsReq)).To(Succeed())
		Expect(rootsReq.Method).To(Equal("roots/list"))

		result, _ := json.Marshal(map[string]any{
			"roots": []map[string]string{{"uri": "file:///home/u/work/repo"}},
		})
		reply, _ := json.Marshal(rpcMessage{JSONRPC: "2.0", ID: rootsReq.ID, Result: result})
		_, err = conn.Write(append(reply, '\n'))
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() bool {
			_, err := reg.Load(initialID)
			return err != nil
		}, 2*time.Second, 20*time.Millisecond).Should(BeTrue(), "superseded record should be removed")

		realID := project.FromPath("/home/u/work/repo").String()
		rec, err := reg.Load(realID)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Path).To(Equal("/home/u/work/repo"))
	})
})
