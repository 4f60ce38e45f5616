// Package msf recognizes the MSF (Multi-Stream File) container used by
// Windows PDB files. Managed images built with full (Windows) debug info
// name such a file in their CodeView entry; it carries no portable PDB
// metadata and is reported rather than parsed.
package msf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic signature for PDB 7.0 format (BigMsf)
const Magic = "Microsoft C/C++ MSF 7.00\r\n\x1a\x44\x53\x00\x00\x00"

// MagicSize is the size of the magic signature in bytes
const MagicSize = 32

// SuperBlockSize is the total size of the SuperBlock structure
const SuperBlockSize = 56

const (
	blockSizeMin uint32 = 512
	blockSizeMax uint32 = 65536
)

// Errors returned during SuperBlock parsing
var (
	ErrInvalidMagic     = errors.New("msf: invalid magic signature")
	ErrInvalidBlockSize = errors.New("msf: invalid block size")
	ErrInvalidFPMBlock  = errors.New("msf: invalid free block map block index")
	ErrTruncatedFile    = errors.New("msf: file is truncated")
)

// SuperBlock is located at file offset 0 and describes the block layout
// of the container.
type SuperBlock struct {
	FileMagic         [MagicSize]byte
	BlockSize         uint32
	FreeBlockMapBlock uint32
	NumBlocks         uint32
	NumDirectoryBytes uint32
	Unknown           uint32
	BlockMapAddr      uint32
}

// HasMagic reports whether data starts with the MSF 7.00 signature.
func HasMagic(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

// Detect reads the superblock of r. It returns ErrInvalidMagic when r is
// not an MSF file at all.
func Detect(r io.ReaderAt, size int64) (*SuperBlock, error) {
	if size < SuperBlockSize {
		return nil, ErrTruncatedFile
	}
	buf := make([]byte, SuperBlockSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("msf: failed to read superblock: %w", err)
	}
	if !HasMagic(buf) {
		return nil, ErrInvalidMagic
	}

	var sb SuperBlock
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &sb); err != nil {
		return nil, fmt.Errorf("msf: failed to decode superblock: %w", err)
	}
	if err := sb.Validate(); err != nil {
		return nil, err
	}
	if size < sb.FileSize() {
		return &sb, fmt.Errorf("%w: got %d bytes, expected %d", ErrTruncatedFile, size, sb.FileSize())
	}
	return &sb, nil
}

// Validate checks the SuperBlock for internal consistency.
func (sb *SuperBlock) Validate() error {
	if string(sb.FileMagic[:]) != Magic {
		return ErrInvalidMagic
	}
	if sb.BlockSize < blockSizeMin || sb.BlockSize > blockSizeMax || sb.BlockSize&(sb.BlockSize-1) != 0 {
		return ErrInvalidBlockSize
	}
	// FreeBlockMapBlock must be 1 or 2
	if sb.FreeBlockMapBlock != 1 && sb.FreeBlockMapBlock != 2 {
		return ErrInvalidFPMBlock
	}
	return nil
}

// FileSize returns the expected file size based on NumBlocks and BlockSize.
func (sb *SuperBlock) FileSize() int64 {
	return int64(sb.NumBlocks) * int64(sb.BlockSize)
}
