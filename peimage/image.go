// Package peimage reads the parts of a PE/COFF image that carry managed
// code: the CLI header and metadata, method bodies, and the debug
// directory that links the image to its program database.
package peimage

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// Data directory slots used by managed images.
const (
	dirDebug = 6
	dirCLI   = 14
)

// CLIHeader is the ECMA-335 II.25.3.3 CLI header.
type CLIHeader struct {
	SizeOfHeader            uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                pe.DataDirectory
	Flags                   uint32
	EntryPointToken         uint32
	Resources               pe.DataDirectory
	StrongNameSignature     pe.DataDirectory
	CodeManagerTable        pe.DataDirectory
	VTableFixups            pe.DataDirectory
	ExportAddressTableJumps pe.DataDirectory
	ManagedNativeHeader     pe.DataDirectory
}

// Options controls how an image is opened.
type Options struct {
	// Prefetch reads the whole file into memory and closes it before
	// Open returns.
	Prefetch bool
}

// Image is an opened PE image.
// It is safe for concurrent read access after opening.
type Image struct {
	r      io.ReaderAt
	closer io.Closer
	file   *pe.File
	dirs   []pe.DataDirectory
	cli    *CLIHeader

	mu     sync.RWMutex
	closed bool
}

// Open opens the image at path.
func Open(path string, opts Options) (*Image, error) {
	if opts.Prefetch {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("peimage: failed to read file: %w", err)
		}
		return NewImage(bytes.NewReader(data), int64(len(data)))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("peimage: failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("peimage: failed to stat file: %w", err)
	}

	img, err := NewImage(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	img.closer = f
	return img, nil
}

// NewImage parses an image from an io.ReaderAt.
func NewImage(r io.ReaderAt, size int64) (*Image, error) {
	file, err := pe.NewFile(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: PE headers: %w", ErrBadImage, err)
	}

	img := &Image{r: r, file: file}
	switch oh := file.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		img.dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	}

	if dd := img.directory(dirCLI); dd.VirtualAddress != 0 && dd.Size != 0 {
		data, err := img.readRVA(dd.VirtualAddress, uint32(binary.Size(CLIHeader{})))
		if err != nil {
			return nil, fmt.Errorf("%w: CLI header: %w", ErrBadImage, err)
		}
		cli := &CLIHeader{}
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, cli); err != nil {
			return nil, fmt.Errorf("%w: CLI header: %w", ErrBadImage, err)
		}
		img.cli = cli
	}

	return img, nil
}

// Close releases resources associated with the image.
func (img *Image) Close() error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.closed {
		return nil
	}
	img.closed = true
	if img.closer != nil {
		return img.closer.Close()
	}
	return nil
}

// Machine returns the COFF machine type.
func (img *Image) Machine() uint16 { return img.file.Machine }

// CLIHeader returns the CLI header, or nil for a native image.
func (img *Image) CLIHeader() *CLIHeader { return img.cli }

// HasMetadata reports whether the image carries CLI metadata.
func (img *Image) HasMetadata() bool {
	return img.cli != nil && img.cli.MetaData.VirtualAddress != 0 && img.cli.MetaData.Size != 0
}

// Metadata returns the raw metadata blob referenced by the CLI header.
func (img *Image) Metadata() ([]byte, error) {
	if !img.HasMetadata() {
		return nil, ErrNoCLIHeader
	}
	data, err := img.ReadRVA(img.cli.MetaData.VirtualAddress, img.cli.MetaData.Size)
	if err != nil {
		return nil, fmt.Errorf("peimage: failed to read metadata: %w", err)
	}
	return data, nil
}

// ReadRVA reads n bytes starting at a relative virtual address.
func (img *Image) ReadRVA(rva, n uint32) ([]byte, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	if img.closed {
		return nil, ErrImageClosed
	}
	return img.readRVA(rva, n)
}

func (img *Image) readRVA(rva, n uint32) ([]byte, error) {
	for _, s := range img.file.Sections {
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+max(s.VirtualSize, s.Size) {
			continue
		}
		off := rva - s.VirtualAddress
		if uint64(off)+uint64(n) > uint64(s.Size) {
			return nil, fmt.Errorf("%w: 0x%x+0x%x exceeds raw data of %s", ErrInvalidRVA, rva, n, s.Name)
		}
		buf := make([]byte, n)
		if _, err := s.ReadAt(buf, int64(off)); err != nil {
			return nil, fmt.Errorf("peimage: failed to read RVA 0x%x: %w", rva, err)
		}
		return buf, nil
	}
	return nil, fmt.Errorf("%w: 0x%x", ErrInvalidRVA, rva)
}

// readAt reads n bytes at a file offset.
func (img *Image) readAt(off int64, n uint32) ([]byte, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	if img.closed {
		return nil, ErrImageClosed
	}
	buf := make([]byte, n)
	if _, err := img.r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("peimage: failed to read offset 0x%x: %w", off, err)
	}
	return buf, nil
}

func (img *Image) directory(i int) pe.DataDirectory {
	if i >= len(img.dirs) {
		return pe.DataDirectory{}
	}
	return img.dirs[i]
}
