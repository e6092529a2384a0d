package e2e

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/marmos91/rodsnfs/internal/logger"
	nfsproto "github.com/marmos91/rodsnfs/internal/protocol/nfs"
	nfsadapter "github.com/marmos91/rodsnfs/pkg/adapter/nfs"
	"github.com/marmos91/rodsnfs/pkg/config"
	"github.com/marmos91/rodsnfs/pkg/server"
)

// TestContext is a running gateway over one backend combination, reached
// through real RPC calls on a loopback TCP port.
type TestContext struct {
	T       *testing.T
	Config  *TestConfig
	Stack   *config.Stack
	Server  *server.Server
	Adapter *nfsadapter.NFSAdapter

	cancel  context.CancelFunc
	done    chan error
	clients []net.Conn
}

// NewTestContext builds the stack described by cfg and starts serving it on
// an ephemeral port.
func NewTestContext(t *testing.T, cfg *TestConfig) *TestContext {
	t.Helper()

	// Functional tests, not debugging sessions.
	logger.SetLevel("ERROR")

	gw := cfg.Build(t)

	ctx, cancel := context.WithCancel(context.Background())
	stack, err := config.Build(ctx, gw, nil)
	if err != nil {
		cancel()
		t.Fatalf("Failed to build stack: %v", err)
	}

	adapter, err := nfsadapter.New(nfsadapter.NFSConfig{
		ShutdownTimeout: gw.Server.ShutdownTimeout,
		Export:          gw.Server.MountPoint,
		Anonymous: nfsproto.AnonymousIdentity{
			UID: uint32(gw.Identity.NobodyUID),
			GID: uint32(gw.Identity.NobodyGID),
		},
	}, nil)
	if err != nil {
		cancel()
		_ = stack.Close()
		t.Fatalf("Failed to create NFS adapter: %v", err)
	}

	srv := server.New(stack.FS, gw.Server.ShutdownTimeout)
	srv.AddTask(stack.Resolver)
	if err := srv.AddAdapter(adapter); err != nil {
		cancel()
		_ = stack.Close()
		t.Fatalf("Failed to add NFS adapter: %v", err)
	}

	tc := &TestContext{
		T:       t,
		Config:  cfg,
		Stack:   stack,
		Server:  srv,
		Adapter: adapter,
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { tc.done <- srv.Serve(ctx) }()

	tc.waitForServer()
	return tc
}

func (tc *TestContext) waitForServer() {
	tc.T.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if tc.Adapter.Port() != 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	tc.T.Fatal("Timeout waiting for server to start")
}

// Dial opens a client connection acting as uid/gid.
func (tc *TestContext) Dial(uid, gid uint32) *Client {
	tc.T.Helper()

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(tc.Adapter.Port())), 5*time.Second)
	if err != nil {
		tc.T.Fatalf("Failed to connect: %v", err)
	}
	tc.clients = append(tc.clients, conn)
	return &Client{t: tc.T, conn: conn, uid: uid, gid: gid}
}

// Cleanup stops the server and closes the stores.
func (tc *TestContext) Cleanup() {
	for _, conn := range tc.clients {
		_ = conn.Close()
	}
	tc.cancel()
	select {
	case err := <-tc.done:
		if err != nil {
			tc.T.Logf("Server stopped with: %v", err)
		}
	case <-time.After(10 * time.Second):
		tc.T.Error("Server did not stop")
	}
	if err := tc.Stack.Close(); err != nil {
		tc.T.Errorf("Failed to close stack: %v", err)
	}
}
