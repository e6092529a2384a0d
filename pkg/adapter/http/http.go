// Package http serves Prometheus metrics and a health probe next to the NFS
// front end.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/adapter"
	"github.com/marmos91/rodsnfs/pkg/metrics"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// Config configures the HTTP adapter.
type Config struct {
	// Port defaults to 9090.
	Port int

	// HealthTimeout bounds the remote round trip of /healthz. Defaults to 5s.
	HealthTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
}

// Adapter exposes:
//   - GET /metrics: Prometheus metrics, or 503 when metrics are disabled
//   - GET /healthz: 200 when the mount point can be stat'ed as the proxy admin
type Adapter struct {
	config Config
	server *http.Server

	mu sync.RWMutex
	fs vfs.VirtualFileSystem

	shutdownOnce sync.Once
}

var _ adapter.Adapter = (*Adapter)(nil)

// New builds a stopped adapter.
func New(config Config) *Adapter {
	config.applyDefaults()

	a := &Adapter{config: config}

	mux := http.NewServeMux()
	if registry := metrics.GetRegistry(); registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "Metrics collection is disabled\n")
		})
	}
	mux.HandleFunc("/healthz", a.handleHealth)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a
}

// Handler returns the request multiplexer, for tests.
func (a *Adapter) Handler() http.Handler {
	return a.server.Handler
}

func (a *Adapter) SetFileSystem(fs vfs.VirtualFileSystem) {
	a.mu.Lock()
	a.fs = fs
	a.mu.Unlock()
}

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	fs := a.fs
	a.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	if fs == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintln(w, "no filesystem")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.config.HealthTimeout)
	defer cancel()

	// uid 0 is the proxy admin, so this exercises authentication and the
	// catalog without depending on any local account.
	if _, err := fs.Getattr(&vfs.AuthContext{Context: ctx}, fs.RootInode()); err != nil {
		logger.Warn("http: health check failed", logger.KeyError, err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "unhealthy: %v\n", err)
		return
	}
	_, _ = fmt.Fprintln(w, "ok")
}

// Serve listens until ctx is cancelled or Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("http adapter: listen on %s: %w", a.server.Addr, err)
	}
	logger.Info("http adapter listening", "port", a.config.Port)

	errChan := make(chan error, 1)
	go func() {
		errChan <- a.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Stop(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http adapter failed: %w", err)
	}
}

// Stop shuts the server down. Later calls are no-ops.
func (a *Adapter) Stop(ctx context.Context) error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		if err := a.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("http adapter shutdown: %w", err)
			return
		}
		logger.Info("http adapter stopped")
	})
	return shutdownErr
}

func (a *Adapter) Protocol() string {
	return "HTTP"
}

func (a *Adapter) Port() int {
	return a.config.Port
}
