package rpc

// RPC program numbers (RFC 1057).
const (
	ProgramPortmap = 100000
	ProgramNFS     = 100003
	ProgramMount   = 100005
)

// Program versions served by the adapter.
const (
	RPCVersion   = 2
	NFSVersion   = 3
	MountVersion = 3
)

// Message types (RFC 5531 Section 9).
const (
	RPCCall  = 0
	RPCReply = 1
)

// Reply states.
const (
	RPCMsgAccepted = 0
	RPCMsgDenied   = 1
)

// Accept status of an accepted reply.
const (
	RPCSuccess      = 0
	RPCProgUnavail  = 1
	RPCProgMismatch = 2
	RPCProcUnavail  = 3
	RPCGarbageArgs  = 4
	RPCSystemErr    = 5
)

// Reject status of a denied reply.
const (
	RPCMismatch = 0
	RPCAuthErr  = 1
)

// Authentication flavors (RFC 5531 Section 8).
const (
	AuthNull  uint32 = 0
	AuthUnix  uint32 = 1
	AuthShort uint32 = 2
	AuthDES   uint32 = 3
)

// AUTH_UNIX limits from RFC 5531 Appendix A.
const (
	maxMachineNameLen = 255
	maxAuthGIDs       = 16
)

// MaxFragmentSize bounds a single record-marking fragment.
const MaxFragmentSize = 1<<20 + 64<<10
