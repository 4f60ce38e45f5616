package symbols

import "errors"

// Sentinel errors for common conditions.
var (
	// ErrUnsupportedEntityKind indicates a handle whose kind has no name
	// resolution rule. It signals a caller or metadata shape the resolver
	// does not traverse and must not be discarded.
	ErrUnsupportedEntityKind = errors.New("symbols: unsupported entity kind")

	// ErrNoMetadata indicates an image without CLI metadata. The cache
	// reports such images as absent.
	ErrNoMetadata = errors.New("symbols: image has no CLI metadata")

	// ErrResolutionDepth indicates a scope chain too deep to be valid
	// metadata, such as a cycle of type references.
	ErrResolutionDepth = errors.New("symbols: scope chain too deep")
)
