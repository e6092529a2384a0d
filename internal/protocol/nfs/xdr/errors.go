package xdr

import (
	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// MapVFSErrorToNFSStatus converts a filesystem error into an nfsstat3 and
// logs it at a level matching who is at fault.
func MapVFSErrorToNFSStatus(err error, clientAddr string, procedure string) uint32 {
	if err == nil {
		return types.NFS3OK
	}

	code, ok := vfs.CodeOf(err)
	if !ok {
		logger.Error("nfs: procedure failed", logger.KeyProcedure, procedure, logger.KeyClientIP, clientAddr, logger.KeyError, err)
		return types.NFS3ErrIO
	}

	var status uint32
	switch code {
	case vfs.ErrNotFound:
		status = types.NFS3ErrStale
	case vfs.ErrNoSuchEntry:
		status = types.NFS3ErrNoEnt
	case vfs.ErrUserNotFound, vfs.ErrAccessDenied:
		status = types.NFS3ErrAcces
	case vfs.ErrInvalidArgument:
		status = types.NFS3ErrInval
	case vfs.ErrNotSupported:
		status = types.NFS3ErrNotSupp
	case vfs.ErrAlreadyExists:
		status = types.NFS3ErrExist
	case vfs.ErrNotEmpty:
		status = types.NFS3ErrNotEmpty
	default:
		logger.Error("nfs: procedure failed", logger.KeyProcedure, procedure, logger.KeyClientIP, clientAddr, logger.KeyError, err)
		return types.NFS3ErrIO
	}

	logger.Debug("nfs: procedure refused", logger.KeyProcedure, procedure, logger.KeyClientIP, clientAddr, "status", status, logger.KeyError, err)
	return status
}
