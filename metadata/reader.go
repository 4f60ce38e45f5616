// Package metadata reads ECMA-335 metadata: the metadata root, its heaps
// and tables, as found in the CLI section of a managed image or as the
// entire content of a portable PDB file.
package metadata

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/skdltmxn/clrsym/internal/stream"
)

// Signature is the metadata root magic "BSJB".
const Signature uint32 = 0x424A5342

// Heap size flags of the #~ header.
const (
	heapLargeStrings = 0x01
	heapLargeGUID    = 0x02
	heapLargeBlob    = 0x04
	heapExtraData    = 0x40
)

// Reader provides access to the tables and heaps of one metadata blob.
// It is safe for concurrent use once parsed.
type Reader struct {
	version string

	strings []byte
	blobs   []byte
	guids   []byte
	tables  []byte

	pdb *PDBStream

	rows   [maxTables]uint32
	layout [maxTables]tableLayout
	sorted uint64

	stringSize int
	guidSize   int
	blobSize   int

	// Lazily built
	namespaces     []NamespaceDefinition
	namespaceIndex map[string]Handle
	typeNamespaces []Handle
	namespacesOnce sync.Once
	namespacesErr  error

	fieldPos  map[uint32]uint32
	methodPos map[uint32]uint32
	ptrsOnce  sync.Once
	ptrsErr   error
}

type tableLayout struct {
	offset  int
	rowSize int
	cols    []colLayout
}

type colLayout struct {
	offset int
	size   int
}

// PDBStream is the content of the #Pdb stream of a portable PDB.
type PDBStream struct {
	// ID is the 16-byte GUID followed by a 4-byte stamp.
	ID         [20]byte
	EntryPoint Handle

	// TypeSystemRows holds row counts of the tables in the associated
	// image, used to size indexes into them.
	TypeSystemRows [maxTables]uint32
}

// GUID returns the GUID part of the PDB id.
func (p *PDBStream) GUID() [16]byte {
	var g [16]byte
	copy(g[:], p.ID[:16])
	return g
}

// Stamp returns the stamp part of the PDB id.
func (p *PDBStream) Stamp() uint32 {
	return binary.LittleEndian.Uint32(p.ID[16:])
}

// Parse parses a metadata blob. The slice is retained and must not be
// modified while the Reader is in use.
func Parse(data []byte) (*Reader, error) {
	r := stream.NewReader(data)

	sig, err := r.ReadU32()
	if err != nil || sig != Signature {
		return nil, ErrNotMetadata
	}

	// MajorVersion, MinorVersion, Reserved
	if err := r.Skip(8); err != nil {
		return nil, &ParseError{Stream: "root", Offset: int64(r.Offset()), Message: "truncated header", Err: err}
	}
	length, err := r.ReadU32()
	if err != nil {
		return nil, &ParseError{Stream: "root", Offset: int64(r.Offset()), Message: "truncated header", Err: err}
	}
	versionBytes, err := r.ReadBytesRef(int(length))
	if err != nil {
		return nil, &ParseError{Stream: "root", Offset: int64(r.Offset()), Message: "truncated version string", Err: err}
	}

	md := &Reader{version: trimNul(versionBytes)}

	// Flags
	if err := r.Skip(2); err != nil {
		return nil, &ParseError{Stream: "root", Offset: int64(r.Offset()), Message: "truncated header", Err: err}
	}
	numStreams, err := r.ReadU16()
	if err != nil {
		return nil, &ParseError{Stream: "root", Offset: int64(r.Offset()), Message: "truncated header", Err: err}
	}

	var pdbData []byte
	for i := uint16(0); i < numStreams; i++ {
		offset, err := r.ReadU32()
		if err != nil {
			return nil, &ParseError{Stream: "root", Offset: int64(r.Offset()), Message: "truncated stream header", Err: err}
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, &ParseError{Stream: "root", Offset: int64(r.Offset()), Message: "truncated stream header", Err: err}
		}
		name, err := r.ReadCString()
		if err != nil {
			return nil, &ParseError{Stream: "root", Offset: int64(r.Offset()), Message: "truncated stream name", Err: err}
		}
		r.Align(4)

		if uint64(offset)+uint64(size) > uint64(len(data)) {
			return nil, &ParseError{Stream: name, Offset: int64(offset),
				Message: fmt.Sprintf("stream extends past end of metadata (size 0x%x)", size)}
		}
		content := data[offset : offset+size]

		switch name {
		case "#~", "#-":
			md.tables = content
		case "#Strings":
			md.strings = content
		case "#GUID":
			md.guids = content
		case "#Blob":
			md.blobs = content
		case "#Pdb":
			pdbData = content
		}
	}

	if pdbData != nil {
		if md.pdb, err = parsePDBStream(pdbData); err != nil {
			return nil, err
		}
	}

	if md.tables == nil {
		return nil, ErrNoTables
	}
	if err := md.parseTables(); err != nil {
		return nil, err
	}

	return md, nil
}

func parsePDBStream(data []byte) (*PDBStream, error) {
	r := stream.NewReader(data)
	p := &PDBStream{}

	id, err := r.ReadBytesRef(20)
	if err != nil {
		return nil, &ParseError{Stream: "#Pdb", Message: "truncated id", Err: err}
	}
	copy(p.ID[:], id)

	entry, err := r.ReadU32()
	if err != nil {
		return nil, &ParseError{Stream: "#Pdb", Offset: int64(r.Offset()), Message: "truncated entry point", Err: err}
	}
	p.EntryPoint = Handle(entry)

	referenced, err := r.ReadU64()
	if err != nil {
		return nil, &ParseError{Stream: "#Pdb", Offset: int64(r.Offset()), Message: "truncated table mask", Err: err}
	}
	for i := 0; i < maxTables; i++ {
		if referenced&(1<<i) == 0 {
			continue
		}
		if p.TypeSystemRows[i], err = r.ReadU32(); err != nil {
			return nil, &ParseError{Stream: "#Pdb", Offset: int64(r.Offset()), Message: "truncated row counts", Err: err}
		}
	}

	return p, nil
}

func (md *Reader) parseTables() error {
	r := stream.NewReader(md.tables)

	// Reserved, MajorVersion, MinorVersion
	if err := r.Skip(6); err != nil {
		return &ParseError{Stream: "#~", Message: "truncated header", Err: err}
	}
	heapSizes, err := r.ReadU8()
	if err != nil {
		return &ParseError{Stream: "#~", Offset: int64(r.Offset()), Message: "truncated header", Err: err}
	}
	if err := r.Skip(1); err != nil {
		return &ParseError{Stream: "#~", Offset: int64(r.Offset()), Message: "truncated header", Err: err}
	}
	valid, err := r.ReadU64()
	if err != nil {
		return &ParseError{Stream: "#~", Offset: int64(r.Offset()), Message: "truncated header", Err: err}
	}
	if md.sorted, err = r.ReadU64(); err != nil {
		return &ParseError{Stream: "#~", Offset: int64(r.Offset()), Message: "truncated header", Err: err}
	}

	for i := 0; i < maxTables; i++ {
		if valid&(1<<i) == 0 {
			continue
		}
		if _, ok := schemas[Kind(i)]; !ok {
			return fmt.Errorf("%w: 0x%02x", ErrUnknownTable, i)
		}
		if md.rows[i], err = r.ReadU32(); err != nil {
			return &ParseError{Stream: "#~", Offset: int64(r.Offset()), Message: "truncated row counts", Err: err}
		}
	}
	if heapSizes&heapExtraData != 0 {
		if err := r.Skip(4); err != nil {
			return &ParseError{Stream: "#~", Offset: int64(r.Offset()), Message: "truncated extra data", Err: err}
		}
	}

	md.stringSize = heapIndexSize(heapSizes&heapLargeStrings != 0)
	md.guidSize = heapIndexSize(heapSizes&heapLargeGUID != 0)
	md.blobSize = heapIndexSize(heapSizes&heapLargeBlob != 0)

	offset := r.Offset()
	for i := 0; i < maxTables; i++ {
		if md.rows[i] == 0 {
			continue
		}
		l := md.computeLayout(schemas[Kind(i)])
		l.offset = offset
		md.layout[i] = l
		offset += l.rowSize * int(md.rows[i])
	}
	if offset > len(md.tables) {
		return &ParseError{Stream: "#~", Offset: int64(offset),
			Message: fmt.Sprintf("tables extend past end of stream (size 0x%x)", len(md.tables))}
	}

	return nil
}

func heapIndexSize(large bool) int {
	if large {
		return 4
	}
	return 2
}

// sizingRows returns the row count used to size indexes into table k.
// A portable PDB refers to tables of its image through #Pdb.
func (md *Reader) sizingRows(k Kind) uint32 {
	if k == kindNone {
		return 0
	}
	if md.pdb != nil && md.pdb.TypeSystemRows[k] > md.rows[k] {
		return md.pdb.TypeSystemRows[k]
	}
	return md.rows[k]
}

func (md *Reader) columnSize(c column) int {
	switch c.typ {
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		return md.stringSize
	case colGUID:
		return md.guidSize
	case colBlob:
		return md.blobSize
	case colTable:
		if md.sizingRows(c.table) < 1<<16 {
			return 2
		}
		return 4
	case colCoded:
		maxRows := uint32(0)
		for _, k := range c.coded.tables {
			if n := md.sizingRows(k); n > maxRows {
				maxRows = n
			}
		}
		if maxRows < 1<<(16-c.coded.bits) {
			return 2
		}
		return 4
	}
	return 0
}

func (md *Reader) computeLayout(cols []column) tableLayout {
	l := tableLayout{cols: make([]colLayout, len(cols))}
	for i, c := range cols {
		size := md.columnSize(c)
		l.cols[i] = colLayout{offset: l.rowSize, size: size}
		l.rowSize += size
	}
	return l
}

// cell reads one column value of a row.
func (md *Reader) cell(k Kind, row uint32, col int) (uint32, error) {
	if row == 0 || row > md.rows[k] {
		return 0, fmt.Errorf("%w: %s row %d of %d", ErrInvalidHandle, k, row, md.rows[k])
	}
	l := &md.layout[k]
	c := l.cols[col]
	off := l.offset + int(row-1)*l.rowSize + c.offset
	return stream.NewReader(md.tables[off:]).ReadIndex(c.size)
}

func (md *Reader) codedCell(k Kind, row uint32, col int) (Handle, error) {
	v, err := md.cell(k, row, col)
	if err != nil {
		return 0, err
	}
	return schemas[k][col].coded.decode(v), nil
}

// Version returns the metadata version string, e.g. "v4.0.30319".
func (md *Reader) Version() string { return md.version }

// RowCount returns the number of rows in the given table.
func (md *Reader) RowCount(k Kind) int {
	if k >= maxTables {
		return 0
	}
	return int(md.rows[k])
}

// IsSorted reports whether the table is marked sorted.
func (md *Reader) IsSorted(k Kind) bool {
	return k < maxTables && md.sorted&(1<<k) != 0
}

// IsPortablePDB reports whether the metadata carries a #Pdb stream.
func (md *Reader) IsPortablePDB() bool { return md.pdb != nil }

// PDB returns the #Pdb stream, or nil for type-system metadata.
func (md *Reader) PDB() *PDBStream { return md.pdb }

func trimNul(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	for i := 0; i < end; i++ {
		if b[i] == 0 {
			end = i
			break
		}
	}
	return string(b[:end])
}
