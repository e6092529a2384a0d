package content

import "context"

// ContentID identifies the bytes of one data object. The catalog assigns a
// fresh ID when a data object is created and keeps it across renames, so
// stores never move content.
type ContentID string

// Store holds the bytes of data objects.
//
// Offsets are absolute. Writing past the current end grows the content and
// fills the gap with zeros.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Concurrent writes to the
// same ContentID may interleave.
type Store interface {
	// ReadAt reads up to len(p) bytes starting at offset. It follows
	// io.ReaderAt: a short read at the end of content returns the bytes read
	// and io.EOF, and an offset at or past the end returns 0, io.EOF.
	// Content that was never written reads as empty.
	ReadAt(ctx context.Context, id ContentID, p []byte, offset int64) (int, error)

	// WriteAt writes p at offset, creating the content if needed.
	WriteAt(ctx context.Context, id ContentID, p []byte, offset int64) (int, error)

	// Size returns the content length, or ErrContentNotFound.
	Size(ctx context.Context, id ContentID) (int64, error)

	// Exists reports whether content was written for id.
	Exists(ctx context.Context, id ContentID) (bool, error)

	// Delete removes the content. Deleting missing content is not an error.
	Delete(ctx context.Context, id ContentID) error
}
