package content

import "errors"

var (
	// ErrContentNotFound is returned when no content was written for an ID.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("invalid offset")

	// ErrInvalidContentID is returned for empty or malformed IDs.
	ErrInvalidContentID = errors.New("invalid content ID")
)

// ValidateRequest checks the arguments shared by ReadAt and WriteAt.
func ValidateRequest(id ContentID, offset int64) error {
	if id == "" {
		return ErrInvalidContentID
	}
	if offset < 0 {
		return ErrInvalidOffset
	}
	return nil
}
