package peimage

import "errors"

// Sentinel errors for common conditions.
var (
	// ErrBadImage indicates a file whose PE headers cannot be parsed.
	ErrBadImage = errors.New("peimage: invalid PE image")

	// ErrNoCLIHeader indicates a PE image without managed metadata.
	ErrNoCLIHeader = errors.New("peimage: image has no CLI header")

	// ErrInvalidRVA indicates an address not backed by any section data.
	ErrInvalidRVA = errors.New("peimage: RVA not mapped by any section")

	// ErrBadMethodBody indicates a malformed method body header.
	ErrBadMethodBody = errors.New("peimage: invalid method body")

	// ErrBadDebugData indicates malformed debug directory data.
	ErrBadDebugData = errors.New("peimage: invalid debug data")

	// ErrImageClosed indicates the image has been closed.
	ErrImageClosed = errors.New("peimage: image is closed")
)
