package metadata

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNotMetadata indicates the data does not start with a metadata root.
	ErrNotMetadata = errors.New("metadata: invalid metadata signature")

	// ErrNoTables indicates the metadata has no #~ or #- stream.
	ErrNoTables = errors.New("metadata: missing table stream")

	// ErrInvalidHandle indicates a handle of the wrong kind or out of range.
	ErrInvalidHandle = errors.New("metadata: invalid handle")

	// ErrInvalidHeap indicates a heap offset past the end of its heap.
	ErrInvalidHeap = errors.New("metadata: invalid heap offset")

	// ErrUnknownTable indicates a table bit with no known schema.
	ErrUnknownTable = errors.New("metadata: unknown table")
)

// ParseError provides detailed information about parsing failures.
type ParseError struct {
	Stream  string // Stream name where error occurred
	Offset  int64  // Byte offset within stream
	Message string // Description of the error
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metadata: parse error in %s at offset 0x%x: %s: %v",
			e.Stream, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("metadata: parse error in %s at offset 0x%x: %s",
		e.Stream, e.Offset, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

func invalidHandle(h Handle, want Kind) error {
	return fmt.Errorf("%w: %s, want %s", ErrInvalidHandle, h, want)
}
