package peimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// Debug directory entry types.
const (
	DebugTypeCodeView            = 2
	DebugTypeReproducible        = 16
	DebugTypeEmbeddedPortablePDB = 17
	DebugTypePDBChecksum         = 19
)

const (
	debugEntrySize = 28

	codeViewSignature  = 0x53445352 // "RSDS"
	embeddedSignature  = 0x4244504D // "MPDB"
	portableCodeViewMV = 0x504d

	// Deflate cannot expand input by more than this factor.
	maxDeflateRatio = 1032
	maxPrealloc     = 16 << 20
)

// DebugEntry is an IMAGE_DEBUG_DIRECTORY entry.
type DebugEntry struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// IsPortableCodeView reports whether a CodeView entry refers to a
// portable PDB.
func (e DebugEntry) IsPortableCodeView() bool {
	return e.Type == DebugTypeCodeView && e.MinorVersion == portableCodeViewMV
}

// CodeView is the RSDS record of a CodeView debug entry.
type CodeView struct {
	GUID [16]byte
	Age  uint32
	Path string

	// Stamp is the TimeDateStamp of the entry. For portable PDBs the GUID
	// and stamp together form the PDB id.
	Stamp uint32
}

// PDBID returns the 20-byte id a matching portable PDB carries in its
// #Pdb stream.
func (cv *CodeView) PDBID() [20]byte {
	var id [20]byte
	copy(id[:16], cv.GUID[:])
	binary.LittleEndian.PutUint32(id[16:], cv.Stamp)
	return id
}

// DebugDirectory returns the entries of the debug directory. An image
// without one has no entries.
func (img *Image) DebugDirectory() ([]DebugEntry, error) {
	dd := img.directory(dirDebug)
	if dd.VirtualAddress == 0 || dd.Size == 0 {
		return nil, nil
	}
	data, err := img.ReadRVA(dd.VirtualAddress, dd.Size)
	if err != nil {
		return nil, fmt.Errorf("peimage: failed to read debug directory: %w", err)
	}

	entries := make([]DebugEntry, len(data)/debugEntrySize)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDebugData, err)
	}
	return entries, nil
}

// DebugData returns the raw data of a debug entry.
func (img *Image) DebugData(e DebugEntry) ([]byte, error) {
	if e.SizeOfData == 0 {
		return nil, nil
	}
	if e.AddressOfRawData != 0 {
		return img.ReadRVA(e.AddressOfRawData, e.SizeOfData)
	}
	return img.readAt(int64(e.PointerToRawData), e.SizeOfData)
}

// CodeView decodes the RSDS record of a CodeView entry.
func (img *Image) CodeView(e DebugEntry) (*CodeView, error) {
	if e.Type != DebugTypeCodeView {
		return nil, fmt.Errorf("%w: entry type %d is not CodeView", ErrBadDebugData, e.Type)
	}
	data, err := img.DebugData(e)
	if err != nil {
		return nil, err
	}
	if len(data) < 24 || binary.LittleEndian.Uint32(data) != codeViewSignature {
		return nil, fmt.Errorf("%w: missing RSDS signature", ErrBadDebugData)
	}

	cv := &CodeView{
		Age:   binary.LittleEndian.Uint32(data[20:]),
		Stamp: e.TimeDateStamp,
	}
	copy(cv.GUID[:], data[4:20])
	path := data[24:]
	if i := bytes.IndexByte(path, 0); i >= 0 {
		path = path[:i]
	}
	cv.Path = strings.ToValidUTF8(string(path), "")
	return cv, nil
}

// EmbeddedPortablePDB inflates the portable PDB carried by an embedded
// debug entry.
func (img *Image) EmbeddedPortablePDB(e DebugEntry) ([]byte, error) {
	if e.Type != DebugTypeEmbeddedPortablePDB {
		return nil, fmt.Errorf("%w: entry type %d is not an embedded PDB", ErrBadDebugData, e.Type)
	}
	data, err := img.DebugData(e)
	if err != nil {
		return nil, err
	}
	if len(data) < 8 || binary.LittleEndian.Uint32(data) != embeddedSignature {
		return nil, fmt.Errorf("%w: missing MPDB signature", ErrBadDebugData)
	}
	size := binary.LittleEndian.Uint32(data[4:])
	if uint64(size) > uint64(len(data)-8)*maxDeflateRatio {
		return nil, fmt.Errorf("%w: embedded PDB size %d exceeds what %d compressed bytes can hold",
			ErrBadDebugData, size, len(data)-8)
	}

	zr := flate.NewReader(bytes.NewReader(data[8:]))
	defer zr.Close()

	out := make([]byte, 0, min(size, maxPrealloc))
	buf := bytes.NewBuffer(out)
	n, err := io.Copy(buf, io.LimitReader(zr, int64(size)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrBadDebugData, err)
	}
	if n != int64(size) {
		return nil, fmt.Errorf("%w: embedded PDB is %d bytes, header says %d", ErrBadDebugData, n, size)
	}
	return buf.Bytes(), nil
}
