package symbols

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/skdltmxn/clrsym/peimage"
)

// Option configures a Cache or an Extractor.
type Option func(*options)

type options struct {
	logger        zerolog.Logger
	embeddedCache int
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger for diagnostics. The default discards them.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEmbeddedCache keeps up to size decompressed embedded program
// databases, keyed by image path. Only Extractor uses it.
func WithEmbeddedCache(size int) Option {
	return func(o *options) { o.embeddedCache = size }
}

// Cache holds at most one open Reader. Requesting a different image
// replaces the cached one; the previous Reader is closed. A Reader from
// the cache stays valid until the next request for a different path or
// until Close.
//
// Cache is safe for concurrent use. A Reader obtained from Reader may be
// evicted by another goroutine at any time; With keeps it valid while
// fn runs.
type Cache struct {
	logger zerolog.Logger
	open   func(path string) (*Reader, error)

	mu     sync.Mutex
	path   string
	reader *Reader
}

// NewCache returns an empty cache.
func NewCache(opts ...Option) *Cache {
	o := buildOptions(opts)
	return &Cache{
		logger: o.logger,
		open: func(path string) (*Reader, error) {
			return OpenReader(path, peimage.Options{Prefetch: true})
		},
	}
}

// Reader returns the reader for the image at path. It returns nil without
// error when the file does not exist or carries no managed metadata; in
// both cases, and on error, the cached reader is left in place.
func (c *Cache) Reader(path string) (*Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(path)
}

// With calls fn with the reader for path, or nil where Reader would
// return nil, holding the cache lock until fn returns. fn must not use
// the cache. A lookup error is returned without calling fn.
func (c *Cache) With(path string, fn func(*Reader) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.lookup(path)
	if err != nil {
		return err
	}
	return fn(r)
}

// lookup requires c.mu.
func (c *Cache) lookup(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug().Str("path", path).Msg("image not found")
			return nil, nil
		}
		return nil, fmt.Errorf("symbols: %w", err)
	}

	if c.reader != nil && c.path == path {
		c.logger.Debug().Str("path", path).Msg("reader cache hit")
		return c.reader, nil
	}

	r, err := c.open(path)
	if errors.Is(err, ErrNoMetadata) {
		c.logger.Debug().Str("path", path).Msg("image has no managed metadata")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if c.reader != nil {
		c.logger.Debug().Str("evicted", c.path).Str("path", path).Msg("replacing cached reader")
		if err := c.reader.Close(); err != nil {
			c.logger.Warn().Err(err).Str("path", c.path).Msg("failed to close evicted reader")
		}
	} else {
		c.logger.Debug().Str("path", path).Msg("reader cache miss")
	}
	c.path, c.reader = path, r
	return r, nil
}

// Close closes the cached reader and empties the cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reader == nil {
		return nil
	}
	err := c.reader.Close()
	c.path, c.reader = "", nil
	return err
}
