package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/adapter"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// DefaultShutdownTimeout bounds how long Stop may take per adapter.
const DefaultShutdownTimeout = 30 * time.Second

// Task is a background job that runs until its context is cancelled, such
// as the identity purge loop.
type Task interface {
	Run(ctx context.Context)
}

// Server runs the protocol adapters sharing one filesystem, plus the
// background tasks they depend on.
//
// Lifecycle:
//  1. New with the shared filesystem
//  2. AddAdapter and AddTask
//  3. Serve starts everything and blocks
//  4. Cancellation of the Serve context, or the failure of any adapter,
//     stops every adapter in reverse registration order
//
// Thread safety:
// AddAdapter and AddTask may be called concurrently before Serve. Serve may
// only be called once.
type Server struct {
	fs              vfs.VirtualFileSystem
	shutdownTimeout time.Duration

	mu       sync.Mutex
	adapters []adapter.Adapter
	tasks    []Task
	served   bool
}

// New creates a server over fs. A zero shutdownTimeout uses
// DefaultShutdownTimeout.
func New(fs vfs.VirtualFileSystem, shutdownTimeout time.Duration) *Server {
	if fs == nil {
		panic("filesystem cannot be nil")
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		fs:              fs,
		shutdownTimeout: shutdownTimeout,
		adapters:        make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter injects the filesystem into a and registers it. Protocols and
// ports must be unique.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return errors.New("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("cannot add adapter after Serve has been called")
	}

	protocol, port := a.Protocol(), a.Port()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetFileSystem(s.fs)
	s.adapters = append(s.adapters, a)

	logger.Info("registered adapter", "protocol", protocol, "port", port)
	return nil
}

// AddTask registers a background task started by Serve.
func (s *Server) AddTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// Serve starts every task and adapter and blocks until ctx is cancelled or
// an adapter fails. It returns ctx.Err() on cancellation and the adapter
// error otherwise.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("server is already serving")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter before Serve")
	}
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			t.Run(runCtx)
		}(t)
	}

	errChan := make(chan adapterError, len(adapters))
	for _, a := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			protocol := a.Protocol()

			err := a.Serve(runCtx)
			switch {
			case err == nil:
				logger.Info("adapter stopped", "protocol", protocol)
			case errors.Is(err, context.Canceled) || runCtx.Err() != nil:
				logger.Debug("adapter stopped gracefully", "protocol", protocol)
			default:
				logger.Error("adapter failed", "protocol", protocol, logger.KeyError, err)
				errChan <- adapterError{protocol: protocol, err: err}
			}
		}(a)
	}

	logger.Info("server started", "adapters", len(adapters), "tasks", len(tasks))

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", "reason", ctx.Err())
		shutdownErr = ctx.Err()
	case failed := <-errChan:
		shutdownErr = fmt.Errorf("%s adapter error: %w", failed.protocol, failed.err)
	}

	cancel()
	s.stopAll(adapters)
	wg.Wait()

	logger.Info("server stopped")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAll stops adapters in reverse registration order.
func (s *Server) stopAll(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("error stopping adapter", "protocol", a.Protocol(), logger.KeyError, err)
		}
	}
}

// Adapters returns a copy of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]adapter.Adapter(nil), s.adapters...)
}
