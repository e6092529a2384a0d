package xdr

import (
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// StatToNFSAttr converts a VFS stat record to fattr3.
func StatToNFSAttr(st *vfs.Stat) *types.NFSFileAttr {
	if st == nil {
		return nil
	}

	return &types.NFSFileAttr{
		Type:   FileTypeToNFS(st.Type()),
		Mode:   st.Mode & 0o7777,
		Nlink:  st.Nlink,
		UID:    st.UID,
		GID:    st.GID,
		Size:   st.Size,
		Used:   st.Size,
		Rdev:   types.SpecData{Major: uint32(st.Rdev >> 32), Minor: uint32(st.Rdev)},
		Fsid:   st.Dev,
		Fileid: st.Fileid,
		Atime:  timeToTimeVal(st.Atime),
		Mtime:  timeToTimeVal(st.Mtime),
		Ctime:  timeToTimeVal(st.Ctime),
	}
}

// StatToWccAttr extracts the pre-operation attributes of wcc_data.
func StatToWccAttr(st *vfs.Stat) *types.WccAttr {
	if st == nil {
		return nil
	}
	return &types.WccAttr{
		Size:  st.Size,
		Mtime: timeToTimeVal(st.Mtime),
		Ctime: timeToTimeVal(st.Ctime),
	}
}

func FileTypeToNFS(t vfs.FileType) uint32 {
	switch t {
	case vfs.FileTypeDirectory:
		return types.NF3Dir
	case vfs.FileTypeSymlink:
		return types.NF3Lnk
	case vfs.FileTypeBlock:
		return types.NF3Blk
	case vfs.FileTypeChar:
		return types.NF3Chr
	case vfs.FileTypeSocket:
		return types.NF3Sock
	case vfs.FileTypeFifo:
		return types.NF3Fifo
	default:
		return types.NF3Reg
	}
}

// SetAttrsToVFS converts a decoded sattr3 into a VFS attribute change.
func SetAttrsToVFS(attr *types.SetAttrs) vfs.SetAttr {
	var out vfs.SetAttr
	if attr == nil {
		return out
	}
	if attr.SetMode {
		mode := attr.Mode
		out.Mode = &mode
	}
	if attr.SetUID {
		uid := attr.UID
		out.UID = &uid
	}
	if attr.SetGID {
		gid := attr.GID
		out.GID = &gid
	}
	if attr.SetSize {
		size := attr.Size
		out.Size = &size
	}
	if attr.SetAtime {
		t := timeValToTime(attr.Atime)
		out.Atime = &t
	}
	if attr.SetMtime {
		t := timeValToTime(attr.Mtime)
		out.Mtime = &t
	}
	return out
}
