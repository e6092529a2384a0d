// Package handlers implements the MOUNTv3 procedures (RFC 1813 Appendix I)
// that hand clients the root handle of the export.
package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/rpc"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/xdr"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// ErrGarbageArgs marks a request whose arguments do not decode.
var ErrGarbageArgs = errors.New("garbage arguments")

const maxPathLen = 1024

// Handler serves MOUNT requests for a single export, the remote mount
// point.
type Handler struct {
	fs     vfs.VirtualFileSystem
	export string

	mu     sync.Mutex
	mounts map[string]string // client address -> mounted path
}

// NewHandler creates a handler exporting the collection at export.
func NewHandler(fs vfs.VirtualFileSystem, export string) *Handler {
	return &Handler{
		fs:     fs,
		export: strings.TrimSuffix(export, "/"),
		mounts: make(map[string]string),
	}
}

// Null is the ping procedure.
func (h *Handler) Null(_ *vfs.AuthContext, _ []byte) ([]byte, error) {
	return []byte{}, nil
}

// Mnt returns the handle of the requested directory. The export itself
// and "/" both resolve to the root handle; paths below the export are
// looked up as the calling user.
func (h *Handler) Mnt(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	dirPath, err := decodePath(data)
	if err != nil {
		return nil, fmt.Errorf("MNT: %w: %v", ErrGarbageArgs, err)
	}

	handle, status := h.resolve(auth, dirPath)
	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, status)
	if status != types.MountOK {
		logger.Warn("mount: refused", logger.KeyPath, dirPath, logger.KeyClientIP, auth.ClientAddr, "status", status)
		return buf.Bytes(), nil
	}

	if err := xdr.EncodeFileHandle(&buf, handle); err != nil {
		return nil, err
	}
	// auth_flavors
	xdr.EncodeUint32(&buf, 2)
	xdr.EncodeUint32(&buf, rpc.AuthUnix)
	xdr.EncodeUint32(&buf, rpc.AuthNull)

	h.mu.Lock()
	h.mounts[auth.ClientAddr] = dirPath
	h.mu.Unlock()

	logger.Info("mount: granted", logger.KeyPath, dirPath, logger.KeyClientIP, auth.ClientAddr, logger.KeyUID, auth.UID)
	return buf.Bytes(), nil
}

func (h *Handler) resolve(auth *vfs.AuthContext, dirPath string) (vfs.Inode, uint32) {
	if len(dirPath) > maxPathLen {
		return nil, types.MountErrNameTooLong
	}

	clean := strings.TrimSuffix(dirPath, "/")
	root := h.fs.RootInode()
	if clean == "" || clean == h.export {
		return root, types.MountOK
	}

	rel, ok := strings.CutPrefix(clean, h.export+"/")
	if !ok {
		return nil, types.MountErrNoEnt
	}

	inode, err := h.fs.Lookup(auth, root, rel)
	if err != nil {
		switch code, _ := vfs.CodeOf(err); code {
		case vfs.ErrNoSuchEntry, vfs.ErrNotFound:
			return nil, types.MountErrNoEnt
		case vfs.ErrAccessDenied, vfs.ErrUserNotFound:
			return nil, types.MountErrAccess
		default:
			return nil, types.MountErrIO
		}
	}

	st, err := h.fs.Getattr(auth, inode)
	if err == nil && st.Type() != vfs.FileTypeDirectory {
		return nil, types.MountErrNotDir
	}
	return inode, types.MountOK
}

// Dump lists the active mounts.
func (h *Handler) Dump(_ *vfs.AuthContext, _ []byte) ([]byte, error) {
	h.mu.Lock()
	clients := make([]string, 0, len(h.mounts))
	for client := range h.mounts {
		clients = append(clients, client)
	}
	sort.Strings(clients)

	var buf bytes.Buffer
	for _, client := range clients {
		xdr.EncodeBool(&buf, true)
		xdr.EncodeString(&buf, client)
		xdr.EncodeString(&buf, h.mounts[client])
	}
	h.mu.Unlock()

	xdr.EncodeBool(&buf, false)
	return buf.Bytes(), nil
}

// Umnt forgets the caller's mount. It has no result.
func (h *Handler) Umnt(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	dirPath, err := decodePath(data)
	if err != nil {
		return nil, fmt.Errorf("UMNT: %w: %v", ErrGarbageArgs, err)
	}

	h.mu.Lock()
	delete(h.mounts, auth.ClientAddr)
	h.mu.Unlock()

	logger.Info("mount: released", logger.KeyPath, dirPath, logger.KeyClientIP, auth.ClientAddr)
	return []byte{}, nil
}

// UmntAll forgets every mount of the caller.
func (h *Handler) UmntAll(auth *vfs.AuthContext, _ []byte) ([]byte, error) {
	h.mu.Lock()
	delete(h.mounts, auth.ClientAddr)
	h.mu.Unlock()
	return []byte{}, nil
}

// Export lists the single export, open to every client.
func (h *Handler) Export(_ *vfs.AuthContext, _ []byte) ([]byte, error) {
	var buf bytes.Buffer
	xdr.EncodeBool(&buf, true)
	xdr.EncodeString(&buf, h.export)
	xdr.EncodeBool(&buf, false) // no group restrictions
	xdr.EncodeBool(&buf, false)
	return buf.Bytes(), nil
}

// Mounts returns the number of clients holding a mount.
func (h *Handler) Mounts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.mounts)
}

func decodePath(data []byte) (string, error) {
	p, err := xdr.DecodeString(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return p, nil
}
