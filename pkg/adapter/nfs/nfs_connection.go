package nfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/marmos91/rodsnfs/internal/logger"
	nfs "github.com/marmos91/rodsnfs/internal/protocol/nfs"
	mount "github.com/marmos91/rodsnfs/internal/protocol/nfs/mount/handlers"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/rpc"
	v3 "github.com/marmos91/rodsnfs/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// NFSConnection serves the RPC calls of one TCP client, one at a time.
type NFSConnection struct {
	server *NFSAdapter
	conn   net.Conn
}

func NewNFSConnection(server *NFSAdapter, conn net.Conn) *NFSConnection {
	return &NFSConnection{server: server, conn: conn}
}

// Serve processes requests until the client disconnects, a timeout
// expires, ctx is cancelled or the adapter shuts down. A panic in a
// handler closes only this connection.
func (c *NFSConnection) Serve(ctx context.Context) {
	clientAddr := c.conn.RemoteAddr().String()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("nfs: panic in connection handler", logger.KeyClientIP, clientAddr, logger.KeyError, r)
		}
		_ = c.conn.Close()
	}()

	c.resetIdleDeadline(clientAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.server.shutdown:
			return
		default:
		}

		if err := c.handleRequest(ctx); err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("nfs: connection closed by client", logger.KeyClientIP, clientAddr)
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug("nfs: connection timed out", logger.KeyClientIP, clientAddr)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				logger.Debug("nfs: connection cancelled", logger.KeyClientIP, clientAddr)
			default:
				logger.Debug("nfs: connection error", logger.KeyClientIP, clientAddr, logger.KeyError, err)
			}
			return
		}

		c.resetIdleDeadline(clientAddr)
	}
}

func (c *NFSConnection) resetIdleDeadline(clientAddr string) {
	if c.server.config.IdleTimeout <= 0 {
		return
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
		logger.Warn("nfs: failed to set deadline", logger.KeyClientIP, clientAddr, logger.KeyError, err)
	}
}

// handleRequest reads one record, dispatches it and writes the reply.
// A returned error ends the connection; a call that merely fails to parse
// does not.
func (c *NFSConnection) handleRequest(ctx context.Context) error {
	if c.server.config.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	message, err := c.readRecord()
	if err != nil {
		return err
	}
	defer nfs.PutBuffer(message)

	call, err := rpc.ReadCall(message)
	if err != nil {
		logger.Debug("nfs: unparseable RPC call", logger.KeyClientIP, c.conn.RemoteAddr().String(), logger.KeyError, err)
		return nil
	}

	data, err := rpc.ReadData(message, call)
	if err != nil {
		return c.sendError(call.XID, rpc.RPCGarbageArgs)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return c.handleRPCCall(ctx, call, data)
}

// readRecord reads fragments up to the last one into a pooled buffer.
// The caller returns the buffer with nfs.PutBuffer.
func (c *NFSConnection) readRecord() ([]byte, error) {
	var record []byte
	for {
		header, err := rpc.ReadFragmentHeader(c.conn)
		if err != nil {
			if record != nil {
				nfs.PutBuffer(record)
			}
			return nil, err
		}

		total := uint32(len(record)) + header.Length
		if total > rpc.MaxFragmentSize {
			if record != nil {
				nfs.PutBuffer(record)
			}
			logger.Warn("nfs: record too large", logger.KeyClientIP, c.conn.RemoteAddr().String(), logger.KeySize, total)
			return nil, fmt.Errorf("record too large: %d bytes", total)
		}

		next := nfs.GetBuffer(total)
		copy(next, record)
		if record != nil {
			nfs.PutBuffer(record)
		}
		if _, err := io.ReadFull(c.conn, next[len(next)-int(header.Length):]); err != nil {
			nfs.PutBuffer(next)
			return nil, fmt.Errorf("read message: %w", err)
		}
		record = next

		if header.IsLast {
			return record, nil
		}
	}
}

// handleRPCCall routes a call by program and version and sends the reply.
func (c *NFSConnection) handleRPCCall(ctx context.Context, call *rpc.RPCCallMessage, data []byte) error {
	clientAddr := c.conn.RemoteAddr().String()

	var (
		reply []byte
		err   error
	)

	switch call.Program {
	case rpc.ProgramNFS:
		if call.Version != rpc.NFSVersion {
			return c.sendProgMismatch(call.XID, rpc.NFSVersion)
		}
		procInfo, ok := nfs.NFSDispatchTable[call.Procedure]
		if !ok {
			return c.sendError(call.XID, rpc.RPCProcUnavail)
		}
		auth := nfs.ExtractAuthContext(ctx, call, clientAddr, procInfo.Name, c.server.config.Anonymous)
		reply, err = c.timed(procInfo.Name, auth, func() ([]byte, error) {
			return procInfo.Handler(c.server.nfsHandler, auth, data)
		})

	case rpc.ProgramMount:
		if call.Version != rpc.MountVersion {
			return c.sendProgMismatch(call.XID, rpc.MountVersion)
		}
		procInfo, ok := nfs.MountDispatchTable[call.Procedure]
		if !ok {
			return c.sendError(call.XID, rpc.RPCProcUnavail)
		}
		auth := nfs.ExtractAuthContext(ctx, call, clientAddr, procInfo.Name, c.server.config.Anonymous)
		reply, err = c.timed("MOUNT_"+procInfo.Name, auth, func() ([]byte, error) {
			return procInfo.Handler(c.server.mountHandler, auth, data)
		})

	default:
		logger.Debug("nfs: unknown program", "program", call.Program, logger.KeyClientIP, clientAddr)
		return c.sendError(call.XID, rpc.RPCProgUnavail)
	}

	switch {
	case err == nil:
		return c.sendReply(call.XID, reply)
	case errors.Is(err, v3.ErrGarbageArgs), errors.Is(err, mount.ErrGarbageArgs):
		logger.Debug("nfs: garbage arguments", logger.KeyClientIP, clientAddr, logger.KeyError, err)
		return c.sendError(call.XID, rpc.RPCGarbageArgs)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		logger.Error("nfs: handler failed", logger.KeyClientIP, clientAddr, logger.KeyError, err)
		return c.sendError(call.XID, rpc.RPCSystemErr)
	}
}

func (c *NFSConnection) timed(procedure string, auth *vfs.AuthContext, run func() ([]byte, error)) ([]byte, error) {
	logger.Debug("nfs: call", logger.KeyProcedure, procedure, logger.KeyUID, auth.UID, logger.KeyGID, auth.GID)

	c.server.metrics.RecordRequestStart(procedure)
	defer c.server.metrics.RecordRequestEnd(procedure)

	start := time.Now()
	reply, err := run()
	c.server.metrics.RecordRequest(procedure, time.Since(start), err)
	return reply, err
}

func (c *NFSConnection) sendReply(xid uint32, data []byte) error {
	reply, err := rpc.MakeSuccessReply(xid, data)
	if err != nil {
		return fmt.Errorf("make reply: %w", err)
	}
	return c.write(reply)
}

func (c *NFSConnection) sendError(xid uint32, acceptStat uint32) error {
	reply, err := rpc.MakeErrorReply(xid, acceptStat)
	if err != nil {
		return fmt.Errorf("make reply: %w", err)
	}
	return c.write(reply)
}

func (c *NFSConnection) sendProgMismatch(xid uint32, version uint32) error {
	reply, err := rpc.MakeProgMismatchReply(xid, version, version)
	if err != nil {
		return fmt.Errorf("make reply: %w", err)
	}
	return c.write(reply)
}

func (c *NFSConnection) write(reply []byte) error {
	if c.server.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := c.conn.Write(reply); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}
