// Package stream provides binary reading utilities for metadata parsing.
package stream

import (
	"encoding/binary"
	"errors"
)

// Errors returned by Reader
var (
	ErrUnexpectedEOF  = errors.New("stream: unexpected end of data")
	ErrNegativeOffset = errors.New("stream: negative offset")
	ErrInvalidIndex   = errors.New("stream: invalid index size")
	ErrBadCompressed  = errors.New("stream: invalid compressed integer")
)

// Reader reads little-endian values and ECMA-335 compressed integers
// from a byte slice.
type Reader struct {
	data   []byte
	offset int
}

// NewReader creates a Reader from a byte slice.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, offset: 0}
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.offset
}

// SetOffset sets the read position.
func (r *Reader) SetOffset(offset int) error {
	if offset < 0 {
		return ErrNegativeOffset
	}
	r.offset = offset
	return nil
}

// Remaining returns the number of bytes remaining.
func (r *Reader) Remaining() int {
	if r.offset >= len(r.data) {
		return 0
	}
	return len(r.data) - r.offset
}

// Skip advances the read position by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.offset+n > len(r.data) {
		return ErrUnexpectedEOF
	}
	r.offset += n
	return nil
}

// Align aligns the read position to the given boundary.
func (r *Reader) Align(alignment int) {
	if alignment <= 1 {
		return
	}
	mod := r.offset % alignment
	if mod != 0 {
		r.offset += alignment - mod
	}
}

// ReadU8 reads an unsigned 8-bit integer.
func (r *Reader) ReadU8() (uint8, error) {
	if r.offset >= len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

// ReadU16 reads an unsigned 16-bit integer.
func (r *Reader) ReadU16() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

// ReadU32 reads an unsigned 32-bit integer.
func (r *Reader) ReadU32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

// ReadU64 reads an unsigned 64-bit integer.
func (r *Reader) ReadU64() (uint64, error) {
	if r.offset+8 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

// ReadIndex reads a 2 or 4 byte table or heap index.
func (r *Reader) ReadIndex(size int) (uint32, error) {
	switch size {
	case 2:
		v, err := r.ReadU16()
		return uint32(v), err
	case 4:
		return r.ReadU32()
	default:
		return 0, ErrInvalidIndex
	}
}

// ReadCompressedU32 reads an unsigned integer in the compressed
// encoding of ECMA-335 II.23.2 (1, 2 or 4 bytes, big-endian).
func (r *Reader) ReadCompressedU32() (uint32, error) {
	v, _, err := r.readCompressed()
	return v, err
}

// ReadCompressedI32 reads a signed compressed integer. The sign bit is
// stored rotated into the least significant bit.
func (r *Reader) ReadCompressedI32() (int32, error) {
	u, n, err := r.readCompressed()
	if err != nil {
		return 0, err
	}
	v := int32(u >> 1)
	if u&1 == 0 {
		return v, nil
	}
	switch n {
	case 1:
		return v - 0x40, nil
	case 2:
		return v - 0x2000, nil
	default:
		return v - 0x10000000, nil
	}
}

func (r *Reader) readCompressed() (uint32, int, error) {
	b0, err := r.ReadU8()
	if err != nil {
		return 0, 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0), 1, nil
	case b0&0xC0 == 0x80:
		b1, err := r.ReadU8()
		if err != nil {
			return 0, 0, err
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), 2, nil
	case b0&0xE0 == 0xC0:
		if r.offset+3 > len(r.data) {
			return 0, 0, ErrUnexpectedEOF
		}
		rest := r.data[r.offset : r.offset+3]
		r.offset += 3
		return uint32(b0&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), 4, nil
	default:
		return 0, 0, ErrBadCompressed
	}
}

// ReadBytesRef returns a reference to n bytes without copying.
// The returned slice is only valid as long as the underlying data.
func (r *Reader) ReadBytesRef(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	v := r.data[r.offset : r.offset+n]
	r.offset += n
	return v, nil
}

// ReadCString reads a null-terminated string.
func (r *Reader) ReadCString() (string, error) {
	start := r.offset
	for r.offset < len(r.data) {
		if r.data[r.offset] == 0 {
			s := string(r.data[start:r.offset])
			r.offset++ // Skip null terminator
			return s, nil
		}
		r.offset++
	}
	return "", ErrUnexpectedEOF
}

// ReadGUID reads a 16-byte GUID.
func (r *Reader) ReadGUID() ([16]byte, error) {
	var guid [16]byte
	if r.offset+16 > len(r.data) {
		return guid, ErrUnexpectedEOF
	}
	copy(guid[:], r.data[r.offset:r.offset+16])
	r.offset += 16
	return guid, nil
}

// PeekU8 returns the next byte without advancing the position.
func (r *Reader) PeekU8() (uint8, error) {
	if r.offset >= len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	return r.data[r.offset], nil
}
