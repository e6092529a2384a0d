package nfs

import (
	"context"

	"github.com/marmos91/rodsnfs/internal/logger"
	mount "github.com/marmos91/rodsnfs/internal/protocol/nfs/mount/handlers"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/rpc"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	v3 "github.com/marmos91/rodsnfs/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// Credentials used for calls without AUTH_UNIX.
type AnonymousIdentity struct {
	UID uint32
	GID uint32
}

// ExtractAuthContext builds the VFS caller identity from the RPC
// credentials. Calls without usable AUTH_UNIX credentials run as anon.
func ExtractAuthContext(ctx context.Context, call *rpc.RPCCallMessage, clientAddr string, procedure string, anon AnonymousIdentity) *vfs.AuthContext {
	auth := &vfs.AuthContext{
		Context:    ctx,
		UID:        anon.UID,
		GID:        anon.GID,
		ClientAddr: clientAddr,
	}

	if call.GetAuthFlavor() != rpc.AuthUnix {
		return auth
	}

	body := call.GetAuthBody()
	if len(body) == 0 {
		logger.Warn("nfs: AUTH_UNIX without credentials", logger.KeyProcedure, procedure, logger.KeyClientIP, clientAddr)
		return auth
	}

	unixAuth, err := rpc.ParseUnixAuth(body)
	if err != nil {
		logger.Warn("nfs: malformed AUTH_UNIX credentials", logger.KeyProcedure, procedure, logger.KeyClientIP, clientAddr, logger.KeyError, err)
		return auth
	}

	auth.UID = unixAuth.UID
	auth.GID = unixAuth.GID
	auth.GIDs = unixAuth.GIDs
	return auth
}

// NFSProcedureHandler runs one NFSv3 procedure.
type NFSProcedureHandler func(h *v3.Handler, auth *vfs.AuthContext, data []byte) ([]byte, error)

type NFSProcedureInfo struct {
	Name    string
	Handler NFSProcedureHandler
}

// NFSDispatchTable maps NFSv3 procedure numbers to handlers.
var NFSDispatchTable = map[uint32]*NFSProcedureInfo{
	types.NFSProcNull:        {Name: "NULL", Handler: (*v3.Handler).Null},
	types.NFSProcGetAttr:     {Name: "GETATTR", Handler: (*v3.Handler).GetAttr},
	types.NFSProcSetAttr:     {Name: "SETATTR", Handler: (*v3.Handler).SetAttr},
	types.NFSProcLookup:      {Name: "LOOKUP", Handler: (*v3.Handler).Lookup},
	types.NFSProcAccess:      {Name: "ACCESS", Handler: (*v3.Handler).Access},
	types.NFSProcReadLink:    {Name: "READLINK", Handler: (*v3.Handler).ReadLink},
	types.NFSProcRead:        {Name: "READ", Handler: (*v3.Handler).Read},
	types.NFSProcWrite:       {Name: "WRITE", Handler: (*v3.Handler).Write},
	types.NFSProcCreate:      {Name: "CREATE", Handler: (*v3.Handler).Create},
	types.NFSProcMkdir:       {Name: "MKDIR", Handler: (*v3.Handler).Mkdir},
	types.NFSProcSymlink:     {Name: "SYMLINK", Handler: (*v3.Handler).Symlink},
	types.NFSProcMknod:       {Name: "MKNOD", Handler: (*v3.Handler).Mknod},
	types.NFSProcRemove:      {Name: "REMOVE", Handler: (*v3.Handler).Remove},
	types.NFSProcRmdir:       {Name: "RMDIR", Handler: (*v3.Handler).Rmdir},
	types.NFSProcRename:      {Name: "RENAME", Handler: (*v3.Handler).Rename},
	types.NFSProcLink:        {Name: "LINK", Handler: (*v3.Handler).Link},
	types.NFSProcReadDir:     {Name: "READDIR", Handler: (*v3.Handler).ReadDir},
	types.NFSProcReadDirPlus: {Name: "READDIRPLUS", Handler: (*v3.Handler).ReadDirPlus},
	types.NFSProcFsStat:      {Name: "FSSTAT", Handler: (*v3.Handler).FsStat},
	types.NFSProcFsInfo:      {Name: "FSINFO", Handler: (*v3.Handler).FsInfo},
	types.NFSProcPathConf:    {Name: "PATHCONF", Handler: (*v3.Handler).PathConf},
	types.NFSProcCommit:      {Name: "COMMIT", Handler: (*v3.Handler).Commit},
}

// MountProcedureHandler runs one MOUNTv3 procedure.
type MountProcedureHandler func(h *mount.Handler, auth *vfs.AuthContext, data []byte) ([]byte, error)

type MountProcedureInfo struct {
	Name    string
	Handler MountProcedureHandler
}

// MountDispatchTable maps MOUNTv3 procedure numbers to handlers.
var MountDispatchTable = map[uint32]*MountProcedureInfo{
	types.MountProcNull:    {Name: "NULL", Handler: (*mount.Handler).Null},
	types.MountProcMnt:     {Name: "MNT", Handler: (*mount.Handler).Mnt},
	types.MountProcDump:    {Name: "DUMP", Handler: (*mount.Handler).Dump},
	types.MountProcUmnt:    {Name: "UMNT", Handler: (*mount.Handler).Umnt},
	types.MountProcUmntAll: {Name: "UMNTALL", Handler: (*mount.Handler).UmntAll},
	types.MountProcExport:  {Name: "EXPORT", Handler: (*mount.Handler).Export},
}
