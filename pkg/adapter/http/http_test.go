package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rodsnfs/pkg/vfs"
)

type stubFS struct {
	vfs.VirtualFileSystem
	err error
}

func (s *stubFS) RootInode() vfs.Inode {
	return vfs.Inode{0, 0, 0, 0, 0, 0, 0, 1}
}

func (s *stubFS) Getattr(auth *vfs.AuthContext, inode vfs.Inode) (*vfs.Stat, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &vfs.Stat{}, nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	a := New(Config{})
	assert.Equal(t, 9090, a.Port())
	assert.Equal(t, "HTTP", a.Protocol())

	rec := get(t, a.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	a.SetFileSystem(&stubFS{})
	rec = get(t, a.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	a.SetFileSystem(&stubFS{err: errors.New("catalog unreachable")})
	rec = get(t, a.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "catalog unreachable")
}

func TestMetricsDisabled(t *testing.T) {
	a := New(Config{Port: 19090})
	rec := get(t, a.Handler(), "/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	a := New(Config{Port: 19091})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Serve did not return after cancel")
	}
	assert.NoError(t, a.Stop(context.Background()), "Stop is idempotent")
}
