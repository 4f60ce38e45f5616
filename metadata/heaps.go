package metadata

import (
	"bytes"
	"fmt"

	"github.com/skdltmxn/clrsym/internal/stream"
)

// String returns the #Strings heap entry at h. The nil handle yields "".
func (md *Reader) String(h StringHandle) (string, error) {
	if h.IsNil() {
		return "", nil
	}
	if int(h) >= len(md.strings) {
		return "", fmt.Errorf("%w: #Strings 0x%x", ErrInvalidHeap, uint32(h))
	}
	data := md.strings[h:]
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at 0x%x", ErrInvalidHeap, uint32(h))
	}
	return string(data[:end]), nil
}

// Blob returns the #Blob heap entry at h without copying. The nil handle
// yields an empty blob.
func (md *Reader) Blob(h BlobHandle) ([]byte, error) {
	if h.IsNil() {
		return nil, nil
	}
	return readBlob(md.blobs, uint32(h), "#Blob")
}

// GUID returns the #GUID heap entry at h. The nil handle yields the zero GUID.
func (md *Reader) GUID(h GUIDHandle) ([16]byte, error) {
	var g [16]byte
	if h.IsNil() {
		return g, nil
	}
	r := stream.NewReader(md.guids)
	if err := r.SetOffset(int(h-1) * 16); err != nil {
		return g, fmt.Errorf("%w: #GUID %d", ErrInvalidHeap, uint32(h))
	}
	g, err := r.ReadGUID()
	if err != nil {
		return g, fmt.Errorf("%w: #GUID %d", ErrInvalidHeap, uint32(h))
	}
	return g, nil
}

func readBlob(heap []byte, offset uint32, name string) ([]byte, error) {
	if int(offset) >= len(heap) {
		return nil, fmt.Errorf("%w: %s 0x%x", ErrInvalidHeap, name, offset)
	}
	r := stream.NewReader(heap[offset:])
	length, err := r.ReadCompressedU32()
	if err != nil {
		return nil, fmt.Errorf("%w: %s 0x%x: %v", ErrInvalidHeap, name, offset, err)
	}
	data, err := r.ReadBytesRef(int(length))
	if err != nil {
		return nil, fmt.Errorf("%w: %s 0x%x: blob length 0x%x", ErrInvalidHeap, name, offset, length)
	}
	return data, nil
}
