// Package nfs routes decoded RPC calls to the NFSv3 and MOUNTv3
// procedure handlers.
//
// Layers, outermost first:
//   - pkg/adapter/nfs: TCP listener, record marking, connection lifecycle
//   - this package: procedure tables, credential extraction, buffer pool
//   - v3/handlers and mount/handlers: XDR decoding and VFS calls
//   - rpc and xdr: wire codecs
package nfs
