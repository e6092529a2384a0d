package e2e

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/marmos91/rodsnfs/internal/protocol/nfs/rpc"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/xdr"
)

// Client issues NFSv3 and MOUNTv3 calls with AUTH_UNIX credentials.
type Client struct {
	t    *testing.T
	conn net.Conn
	xid  uint32
	uid  uint32
	gid  uint32
}

// Reply is a decoded procedure result.
type Reply struct {
	*bytes.Reader
	t *testing.T
}

func (r *Reply) Uint32() uint32 {
	r.t.Helper()
	v, err := xdr.DecodeUint32(r)
	if err != nil {
		r.t.Fatalf("decode uint32: %v", err)
	}
	return v
}

func (r *Reply) Bool() bool {
	r.t.Helper()
	v, err := xdr.DecodeBool(r)
	if err != nil {
		r.t.Fatalf("decode bool: %v", err)
	}
	return v
}

func (r *Reply) Handle() []byte {
	r.t.Helper()
	h, err := xdr.DecodeFileHandle(r)
	if err != nil {
		r.t.Fatalf("decode handle: %v", err)
	}
	return h
}

func (r *Reply) Opaque() []byte {
	r.t.Helper()
	b, err := xdr.DecodeOpaque(r)
	if err != nil {
		r.t.Fatalf("decode opaque: %v", err)
	}
	return b
}

func (r *Reply) Skip(n int64) {
	r.t.Helper()
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		r.t.Fatalf("skip %d bytes: %v", n, err)
	}
}

// SkipPostOpAttr skips a post_op_attr and returns the file type it held,
// or 0 when absent.
func (r *Reply) SkipPostOpAttr() uint32 {
	r.t.Helper()
	if !r.Bool() {
		return 0
	}
	ftype := r.Uint32()
	r.Skip(80)
	return ftype
}

func (r *Reply) SkipWcc() {
	r.t.Helper()
	if r.Bool() {
		r.Skip(24)
	}
	r.SkipPostOpAttr()
}

func (c *Client) credentials() []byte {
	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, uint32(time.Now().Unix()))
	xdr.EncodeString(&buf, "e2e")
	xdr.EncodeUint32(&buf, c.uid)
	xdr.EncodeUint32(&buf, c.gid)
	xdr.EncodeUint32(&buf, 1)
	xdr.EncodeUint32(&buf, c.gid)
	return buf.Bytes()
}

// Call sends one RPC and fails the test unless it is accepted with SUCCESS.
func (c *Client) Call(program, version, procedure uint32, args []byte) *Reply {
	c.t.Helper()
	c.xid++

	var msg bytes.Buffer
	xdr.EncodeUint32(&msg, c.xid)
	xdr.EncodeUint32(&msg, rpc.RPCCall)
	xdr.EncodeUint32(&msg, rpc.RPCVersion)
	xdr.EncodeUint32(&msg, program)
	xdr.EncodeUint32(&msg, version)
	xdr.EncodeUint32(&msg, procedure)
	xdr.EncodeUint32(&msg, rpc.AuthUnix)
	xdr.EncodeOpaque(&msg, c.credentials())
	xdr.EncodeUint32(&msg, rpc.AuthNull)
	xdr.EncodeUint32(&msg, 0)
	msg.Write(args)

	record := make([]byte, 4, 4+msg.Len())
	binary.BigEndian.PutUint32(record, 0x80000000|uint32(msg.Len()))
	record = append(record, msg.Bytes()...)

	if err := c.conn.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.t.Fatalf("set deadline: %v", err)
	}
	if _, err := c.conn.Write(record); err != nil {
		c.t.Fatalf("write call: %v", err)
	}

	header, err := rpc.ReadFragmentHeader(c.conn)
	if err != nil {
		c.t.Fatalf("read reply header: %v", err)
	}
	reply := make([]byte, header.Length)
	if _, err := io.ReadFull(c.conn, reply); err != nil {
		c.t.Fatalf("read reply: %v", err)
	}

	r := &Reply{Reader: bytes.NewReader(reply), t: c.t}
	if xid := r.Uint32(); xid != c.xid {
		c.t.Fatalf("reply xid %d, want %d", xid, c.xid)
	}
	r.Skip(8) // msg_type, reply_stat
	r.Skip(4) // verifier flavor
	r.Opaque()
	if stat := r.Uint32(); stat != rpc.RPCSuccess {
		c.t.Fatalf("call %d/%d rejected with accept_stat %d", program, procedure, stat)
	}
	return r
}

func (c *Client) nfs(procedure uint32, args *bytes.Buffer) *Reply {
	c.t.Helper()
	return c.Call(rpc.ProgramNFS, rpc.NFSVersion, procedure, args.Bytes())
}

func (c *Client) dirOp(dir []byte, name string) *bytes.Buffer {
	c.t.Helper()
	var buf bytes.Buffer
	if err := xdr.EncodeFileHandle(&buf, dir); err != nil {
		c.t.Fatalf("encode handle: %v", err)
	}
	xdr.EncodeString(&buf, name)
	return &buf
}

func (c *Client) handle(h []byte) *bytes.Buffer {
	c.t.Helper()
	var buf bytes.Buffer
	if err := xdr.EncodeFileHandle(&buf, h); err != nil {
		c.t.Fatalf("encode handle: %v", err)
	}
	return &buf
}

func emptySattr(buf *bytes.Buffer) {
	for range 6 {
		xdr.EncodeUint32(buf, 0)
	}
}

// Mount returns the status and root handle of MNT path.
func (c *Client) Mount(path string) (uint32, []byte) {
	c.t.Helper()
	var args bytes.Buffer
	xdr.EncodeString(&args, path)
	r := c.Call(rpc.ProgramMount, rpc.MountVersion, types.MountProcMnt, args.Bytes())
	status := r.Uint32()
	if status != types.MountOK {
		return status, nil
	}
	return status, r.Handle()
}

// Lookup returns the status, handle and file type of name in dir.
func (c *Client) Lookup(dir []byte, name string) (uint32, []byte, uint32) {
	c.t.Helper()
	r := c.nfs(types.NFSProcLookup, c.dirOp(dir, name))
	status := r.Uint32()
	if status != types.NFS3OK {
		return status, nil, 0
	}
	h := r.Handle()
	return status, h, r.SkipPostOpAttr()
}

// GetAttr returns the status, uid and size of a handle.
func (c *Client) GetAttr(h []byte) (uint32, uint32, uint64) {
	c.t.Helper()
	r := c.nfs(types.NFSProcGetAttr, c.handle(h))
	status := r.Uint32()
	if status != types.NFS3OK {
		return status, 0, 0
	}
	r.Skip(12) // type, mode, nlink
	uid := r.Uint32()
	r.Skip(4) // gid
	size, err := xdr.DecodeUint64(r)
	if err != nil {
		c.t.Fatalf("decode size: %v", err)
	}
	return status, uid, size
}

// Create makes a data object with a guarded create.
func (c *Client) Create(dir []byte, name string) (uint32, []byte) {
	c.t.Helper()
	args := c.dirOp(dir, name)
	xdr.EncodeUint32(args, types.CreateGuarded)
	emptySattr(args)
	r := c.nfs(types.NFSProcCreate, args)
	status := r.Uint32()
	if status != types.NFS3OK || !r.Bool() {
		return status, nil
	}
	return status, r.Handle()
}

// Mkdir makes a collection.
func (c *Client) Mkdir(dir []byte, name string) (uint32, []byte) {
	c.t.Helper()
	args := c.dirOp(dir, name)
	emptySattr(args)
	r := c.nfs(types.NFSProcMkdir, args)
	status := r.Uint32()
	if status != types.NFS3OK || !r.Bool() {
		return status, nil
	}
	return status, r.Handle()
}

// Write writes data at offset and returns the status and count written.
func (c *Client) Write(h []byte, offset uint64, data []byte) (uint32, uint32) {
	c.t.Helper()
	args := c.handle(h)
	xdr.EncodeUint64(args, offset)
	xdr.EncodeUint32(args, uint32(len(data)))
	xdr.EncodeUint32(args, types.WriteFileSync)
	xdr.EncodeOpaque(args, data)
	r := c.nfs(types.NFSProcWrite, args)
	status := r.Uint32()
	r.SkipWcc()
	if status != types.NFS3OK {
		return status, 0
	}
	return status, r.Uint32()
}

// Read reads up to count bytes at offset.
func (c *Client) Read(h []byte, offset uint64, count uint32) (uint32, []byte, bool) {
	c.t.Helper()
	args := c.handle(h)
	xdr.EncodeUint64(args, offset)
	xdr.EncodeUint32(args, count)
	r := c.nfs(types.NFSProcRead, args)
	status := r.Uint32()
	r.SkipPostOpAttr()
	if status != types.NFS3OK {
		return status, nil, false
	}
	r.Uint32()
	eof := r.Bool()
	return status, r.Opaque(), eof
}

// Remove deletes a data object.
func (c *Client) Remove(dir []byte, name string) uint32 {
	c.t.Helper()
	return c.nfs(types.NFSProcRemove, c.dirOp(dir, name)).Uint32()
}

// Rmdir deletes an empty collection.
func (c *Client) Rmdir(dir []byte, name string) uint32 {
	c.t.Helper()
	return c.nfs(types.NFSProcRmdir, c.dirOp(dir, name)).Uint32()
}

// Rename moves from/oldName to to/newName.
func (c *Client) Rename(from []byte, oldName string, to []byte, newName string) uint32 {
	c.t.Helper()
	args := c.dirOp(from, oldName)
	args.Write(c.dirOp(to, newName).Bytes())
	return c.nfs(types.NFSProcRename, args).Uint32()
}

// ReadDir lists a collection in one READDIR call.
func (c *Client) ReadDir(dir []byte) (uint32, []string) {
	c.t.Helper()
	args := c.handle(dir)
	xdr.EncodeUint64(args, 0)
	args.Write(make([]byte, 8))
	xdr.EncodeUint32(args, 64*1024)
	r := c.nfs(types.NFSProcReadDir, args)
	status := r.Uint32()
	r.SkipPostOpAttr()
	if status != types.NFS3OK {
		return status, nil
	}
	r.Skip(8) // cookieverf
	var names []string
	for r.Bool() {
		r.Skip(8) // fileid
		name, err := xdr.DecodeString(r)
		if err != nil {
			c.t.Fatalf("decode entry name: %v", err)
		}
		names = append(names, name)
		r.Skip(8) // cookie
	}
	return status, names
}
