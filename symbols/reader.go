// Package symbols resolves metadata handles of managed images into
// fully-qualified names and extracts per-method debug data: method
// bodies, local variable types and source sequence points.
//
// A Cache hands out Readers bound to one image at a time:
//
//	cache := symbols.NewCache()
//	defer cache.Close()
//
//	r, err := cache.Reader("/app/Service.dll")
//	if err != nil {
//		return err
//	}
//	if r == nil {
//		return nil // no such image, or no managed metadata
//	}
//	name, err := r.ResolveName(metadata.HandleFromToken(0x0a000012))
//
// Sequence points come from the program database found next to the image
// or embedded in it, through an Extractor.
package symbols

import (
	"fmt"

	"github.com/skdltmxn/clrsym/metadata"
	"github.com/skdltmxn/clrsym/peimage"
)

// Reader pairs an opened image with its metadata. It is owned by the
// Cache that created it and closed when evicted.
type Reader struct {
	path     string
	image    *peimage.Image
	md       *metadata.Reader
	resolver *Resolver
}

// OpenReader opens the image at path and parses its metadata. An image
// without CLI metadata yields ErrNoMetadata.
func OpenReader(path string, opts peimage.Options) (*Reader, error) {
	img, err := peimage.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	if !img.HasMetadata() {
		img.Close()
		return nil, ErrNoMetadata
	}

	data, err := img.Metadata()
	if err != nil {
		img.Close()
		return nil, fmt.Errorf("symbols: %s: %w", path, err)
	}
	md, err := metadata.Parse(data)
	if err != nil {
		img.Close()
		return nil, fmt.Errorf("symbols: %s: %w", path, err)
	}

	return &Reader{
		path:     path,
		image:    img,
		md:       md,
		resolver: NewResolver(md),
	}, nil
}

// Path returns the path the reader was opened from.
func (r *Reader) Path() string { return r.path }

// Image returns the underlying image.
func (r *Reader) Image() *peimage.Image { return r.image }

// Metadata returns the image metadata.
func (r *Reader) Metadata() *metadata.Reader { return r.md }

// ResolveName resolves h against the image metadata.
func (r *Reader) ResolveName(h metadata.Handle) (string, error) {
	return r.resolver.ResolveName(h)
}

// Close releases the image.
func (r *Reader) Close() error {
	return r.image.Close()
}
