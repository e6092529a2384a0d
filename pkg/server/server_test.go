package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rodsnfs/pkg/vfs"
)

type stubFS struct {
	vfs.VirtualFileSystem
}

type fakeAdapter struct {
	protocol string
	port     int
	fail     error

	fs      vfs.VirtualFileSystem
	started chan struct{}
	stopped atomic.Int32
	once    sync.Once
}

func newFakeAdapter(protocol string, port int) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, started: make(chan struct{})}
}

func (a *fakeAdapter) Serve(ctx context.Context) error {
	a.once.Do(func() { close(a.started) })
	if a.fail != nil {
		return a.fail
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *fakeAdapter) SetFileSystem(fs vfs.VirtualFileSystem) { a.fs = fs }
func (a *fakeAdapter) Stop(context.Context) error            { a.stopped.Add(1); return nil }
func (a *fakeAdapter) Protocol() string                      { return a.protocol }
func (a *fakeAdapter) Port() int                             { return a.port }

type fakeTask struct {
	running atomic.Bool
	done    chan struct{}
}

func (t *fakeTask) Run(ctx context.Context) {
	t.running.Store(true)
	<-ctx.Done()
	close(t.done)
}

func TestAddAdapter(t *testing.T) {
	fs := &stubFS{}
	s := New(fs, 0)

	nfs := newFakeAdapter("NFS", 2049)
	require.NoError(t, s.AddAdapter(nfs))
	assert.Same(t, fs, nfs.fs)

	assert.Error(t, s.AddAdapter(newFakeAdapter("NFS", 2050)), "duplicate protocol")
	assert.Error(t, s.AddAdapter(newFakeAdapter("HTTP", 2049)), "duplicate port")
	assert.Error(t, s.AddAdapter(nil))
	assert.Len(t, s.Adapters(), 1)
}

func TestServeWithoutAdapters(t *testing.T) {
	s := New(&stubFS{}, time.Second)
	assert.Error(t, s.Serve(context.Background()))
}

func TestServeStopsOnCancel(t *testing.T) {
	s := New(&stubFS{}, time.Second)
	nfs := newFakeAdapter("NFS", 2049)
	web := newFakeAdapter("HTTP", 9090)
	require.NoError(t, s.AddAdapter(nfs))
	require.NoError(t, s.AddAdapter(web))
	task := &fakeTask{done: make(chan struct{})}
	s.AddTask(task)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	<-nfs.started
	<-web.started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Serve did not return")
	}

	assert.True(t, task.running.Load())
	<-task.done
	assert.Equal(t, int32(1), nfs.stopped.Load())
	assert.Equal(t, int32(1), web.stopped.Load())

	assert.Error(t, s.Serve(context.Background()), "Serve runs once")
	assert.Error(t, s.AddAdapter(newFakeAdapter("SMB", 445)))
}

func TestServeStopsAllOnAdapterFailure(t *testing.T) {
	s := New(&stubFS{}, time.Second)
	healthy := newFakeAdapter("NFS", 2049)
	broken := newFakeAdapter("HTTP", 9090)
	broken.fail = errors.New("address already in use")
	require.NoError(t, s.AddAdapter(healthy))
	require.NoError(t, s.AddAdapter(broken))

	err := s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP adapter error")
	assert.Equal(t, int32(1), healthy.stopped.Load())
}
