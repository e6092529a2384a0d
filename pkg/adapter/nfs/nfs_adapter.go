package nfs

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/rodsnfs/internal/logger"
	nfs "github.com/marmos91/rodsnfs/internal/protocol/nfs"
	mount "github.com/marmos91/rodsnfs/internal/protocol/nfs/mount/handlers"
	v3 "github.com/marmos91/rodsnfs/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/rodsnfs/pkg/adapter"
	"github.com/marmos91/rodsnfs/pkg/metrics"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// NFSAdapter serves NFSv3 and MOUNTv3 over TCP on a single port.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (in-flight requests see a cancelled context)
//  4. Wait for active connections to finish (up to ShutdownTimeout)
//  5. Force-close whatever is left
//
// All methods are safe for concurrent use; shutdown runs once.
type NFSAdapter struct {
	config NFSConfig

	mu       sync.Mutex
	listener net.Listener
	boundTo  int

	nfsHandler   *v3.Handler
	mountHandler *mount.Handler

	metrics metrics.NFSMetrics

	activeConns  sync.WaitGroup
	shutdownOnce sync.Once
	shutdown     chan struct{}
	connCount    atomic.Int32

	// nil when MaxConnections is 0
	connSemaphore chan struct{}

	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// remote address -> net.Conn, for forced closure
	activeConnections sync.Map
}

var _ adapter.Adapter = (*NFSAdapter)(nil)

// NFSConfig configures the NFS adapter. Zero timeouts disable the
// corresponding deadline.
type NFSConfig struct {
	// Port 0 binds an ephemeral port, reported by Port() once serving.
	Port int

	// MaxConnections limits concurrent clients. 0 means unlimited.
	MaxConnections int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// ShutdownTimeout bounds the wait for connections on shutdown.
	// Defaults to 30s.
	ShutdownTimeout time.Duration

	// MetricsLogInterval enables a periodic connection count log line.
	MetricsLogInterval time.Duration

	// Export is the remote collection clients mount.
	Export string

	// Anonymous is the identity of calls without AUTH_UNIX credentials.
	Anonymous nfs.AnonymousIdentity
}

func (c *NFSConfig) applyDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Export == "" {
		c.Export = "/"
	}
}

func (c *NFSConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts: read=%v write=%v idle=%v", c.ReadTimeout, c.WriteTimeout, c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a stopped adapter. nfsMetrics may be nil.
func New(config NFSConfig, nfsMetrics metrics.NFSMetrics) (*NFSAdapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid NFS config: %w", err)
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
	}

	if nfsMetrics == nil {
		nfsMetrics = metrics.NewNoopNFSMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &NFSAdapter{
		config:         config,
		boundTo:        config.Port,
		metrics:        nfsMetrics,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}, nil
}

// SetFileSystem builds the procedure handlers over fs. It must be called
// before Serve.
func (s *NFSAdapter) SetFileSystem(fs vfs.VirtualFileSystem) {
	s.nfsHandler = v3.NewHandler(fs)
	s.mountHandler = mount.NewHandler(fs, s.config.Export)
	logger.Debug("nfs: filesystem configured", logger.KeyPath, s.config.Export)
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (s *NFSAdapter) Serve(ctx context.Context) error {
	if s.nfsHandler == nil {
		return fmt.Errorf("nfs adapter: no filesystem configured")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create NFS listener on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.listener = listener
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.boundTo = addr.Port
	}
	s.mu.Unlock()

	logger.Info("nfs: listening",
		"port", s.Port(),
		"max_connections", s.config.MaxConnections,
		"read_timeout", s.config.ReadTimeout,
		"write_timeout", s.config.WriteTimeout,
		"idle_timeout", s.config.IdleTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("nfs: shutdown signal received", logger.KeyError, ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("nfs: accept failed", logger.KeyError, err)
				continue
			}
		}

		s.activeConns.Add(1)
		current := s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)
		logger.Debug("nfs: connection accepted", logger.KeyClientIP, connAddr, "active", current)

		conn := NewNFSConnection(s, tcpConn)
		go func(addr string) {
			defer func() {
				s.activeConnections.Delete(addr)
				s.activeConns.Done()
				remaining := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(remaining)
				logger.Debug("nfs: connection closed", logger.KeyClientIP, addr, "active", remaining)
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr)
	}
}

func (s *NFSAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("nfs: closing listener", logger.KeyError, err)
			}
		}
		s.mu.Unlock()

		s.cancelRequests()
	})
}

// gracefulShutdown waits up to ShutdownTimeout for connections to finish,
// then force-closes the rest and reports how many there were.
func (s *NFSAdapter) gracefulShutdown() error {
	logger.Info("nfs: graceful shutdown",
		"active", s.connCount.Load(),
		"timeout", s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("nfs: all connections closed")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("nfs: shutdown timeout exceeded, forcing closure", "active", remaining)
		s.forceCloseConnections()
		return fmt.Errorf("NFS shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *NFSAdapter) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(key, value any) bool {
		if err := value.(net.Conn).Close(); err != nil {
			logger.Debug("nfs: force-close failed", logger.KeyClientIP, key, logger.KeyError, err)
		} else {
			closed++
		}
		return true
	})
	if closed > 0 {
		logger.Info("nfs: force-closed connections", logger.KeyCount, closed)
	}
}

// Stop initiates shutdown and waits for connections until ctx is done.
// With a nil ctx it waits up to ShutdownTimeout instead.
func (s *NFSAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("nfs: stop deadline reached", "active", s.connCount.Load(), logger.KeyError, ctx.Err())
		return ctx.Err()
	}
}

func (s *NFSAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("nfs: metrics", "active_connections", s.connCount.Load(), "mounts", s.mountHandler.Mounts())
		}
	}
}

// GetActiveConnections returns the number of connections being served.
func (s *NFSAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the bound port once serving, the configured one before.
func (s *NFSAdapter) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundTo
}

func (s *NFSAdapter) Protocol() string {
	return "NFS"
}
