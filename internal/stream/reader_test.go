package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCompressedU32(t *testing.T) {
	// Examples from ECMA-335 II.23.2.
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"one byte", []byte{0x03}, 0x03},
		{"one byte max", []byte{0x7F}, 0x7F},
		{"two bytes", []byte{0x80, 0x80}, 0x80},
		{"two bytes 0x2E57", []byte{0xAE, 0x57}, 0x2E57},
		{"two bytes max", []byte{0xBF, 0xFF}, 0x3FFF},
		{"four bytes", []byte{0xC0, 0x00, 0x40, 0x00}, 0x4000},
		{"four bytes max", []byte{0xDF, 0xFF, 0xFF, 0xFF}, 0x1FFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			got, err := r.ReadCompressedU32()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 0, r.Remaining())
		})
	}
}

func TestReadCompressedI32(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int32
	}{
		{"3", []byte{0x06}, 3},
		{"-3", []byte{0x7B}, -3},
		{"64", []byte{0x80, 0x80}, 64},
		{"-64", []byte{0x01}, -64},
		{"8192", []byte{0xC0, 0x00, 0x40, 0x00}, 8192},
		{"-8192", []byte{0x80, 0x01}, -8192},
		{"-1", []byte{0x7F}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewReader(tt.data).ReadCompressedI32()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadCompressedInvalid(t *testing.T) {
	_, err := NewReader([]byte{0xFF}).ReadCompressedU32()
	assert.ErrorIs(t, err, ErrBadCompressed)

	_, err = NewReader([]byte{0x80}).ReadCompressedU32()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)

	_, err = NewReader([]byte{0xC0, 0x00}).ReadCompressedU32()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestReadIndex(t *testing.T) {
	r := NewReader([]byte{0x34, 0x12, 0x78, 0x56, 0x34, 0x12})

	v, err := r.ReadIndex(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), v)

	v, err = r.ReadIndex(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), v)

	_, err = r.ReadIndex(3)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestReadCString(t *testing.T) {
	r := NewReader([]byte("abc\x00de"))

	s, err := r.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	_, err = r.ReadCString()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestAlignAndSkip(t *testing.T) {
	r := NewReader(make([]byte, 16))
	require.NoError(t, r.Skip(5))
	r.Align(4)
	assert.Equal(t, 8, r.Offset())
	assert.Equal(t, 8, r.Remaining())
	assert.ErrorIs(t, r.Skip(9), ErrUnexpectedEOF)
}
