package logger

import "context"

// Standard field keys for structured logging.
const (
	KeyProcedure = "procedure"
	KeyHandle    = "handle"
	KeyPath      = "path"
	KeyName      = "name"
	KeyOldPath   = "old_path"
	KeyNewPath   = "new_path"
	KeyKind      = "kind"
	KeySize      = "size"
	KeyMode      = "mode"
	KeyMask      = "mask"
	KeyDecision  = "decision"

	KeyOffset       = "offset"
	KeyCount        = "count"
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"

	KeyUID      = "uid"
	KeyGID      = "gid"
	KeyUsername = "username"
	KeyZone     = "zone"
	KeyClientIP = "client_ip"

	KeyCache      = "cache"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeySource     = "source"
	KeyOperation  = "operation"
	KeyBackend    = "backend"
)

type fieldsKey struct{}

// WithFields returns a context carrying key/value pairs that the *Ctx
// functions append to every record.
func WithFields(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(fieldsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func appendContextFields(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	fields, _ := ctx.Value(fieldsKey{}).([]any)
	if len(fields) == 0 {
		return args
	}
	return append(fields[:len(fields):len(fields)], args...)
}
