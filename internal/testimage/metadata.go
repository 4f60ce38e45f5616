package testimage

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"sort"
	"strings"

	"github.com/skdltmxn/clrsym/metadata"
)

// Metadata builds a metadata blob with small heaps and tables, so every
// heap and table index is two bytes wide.
type Metadata struct {
	strings     bytes.Buffer
	stringIndex map[string]uint16
	blobs       bytes.Buffer
	guids       bytes.Buffer
	userStrings bytes.Buffer

	rows map[metadata.Kind][][]any

	pdb *pdbHeader
}

type pdbHeader struct {
	id         [20]byte
	entryPoint uint32
	rows       map[metadata.Kind]uint32
}

// NewMetadata returns an empty builder.
func NewMetadata() *Metadata {
	m := &Metadata{
		stringIndex: map[string]uint16{"": 0},
		rows:        make(map[metadata.Kind][][]any),
	}
	m.strings.WriteByte(0)
	m.blobs.WriteByte(0)
	m.userStrings.WriteByte(0)
	return m
}

// String interns s in #Strings.
func (m *Metadata) String(s string) uint16 {
	if off, ok := m.stringIndex[s]; ok {
		return off
	}
	off := uint16(m.strings.Len())
	m.strings.WriteString(s)
	m.strings.WriteByte(0)
	m.stringIndex[s] = off
	return off
}

// Blob appends b to #Blob. An empty blob is the nil index.
func (m *Metadata) Blob(b []byte) uint16 {
	if len(b) == 0 {
		return 0
	}
	off := uint16(m.blobs.Len())
	m.blobs.Write(CompressedU32(uint32(len(b))))
	m.blobs.Write(b)
	return off
}

// GUID appends g to #GUID and returns its 1-based index.
func (m *Metadata) GUID(g [16]byte) uint16 {
	m.guids.Write(g[:])
	return uint16(m.guids.Len() / 16)
}

// Row appends a raw row to table k. Values must be uint16 or uint32.
func (m *Metadata) Row(k metadata.Kind, values ...any) metadata.Handle {
	m.rows[k] = append(m.rows[k], values)
	return metadata.NewHandle(k, uint32(len(m.rows[k])))
}

func (m *Metadata) count(k metadata.Kind) uint32 { return uint32(len(m.rows[k])) }

// Module adds the module row.
func (m *Metadata) Module(name string, mvid [16]byte) metadata.Handle {
	return m.Row(metadata.KindModule, uint16(0), m.String(name), m.GUID(mvid), uint16(0), uint16(0))
}

// AssemblyRef adds an assembly reference.
func (m *Metadata) AssemblyRef(name string, version [4]uint16) metadata.Handle {
	return m.Row(metadata.KindAssemblyRef,
		version[0], version[1], version[2], version[3],
		uint32(0), uint16(0), m.String(name), uint16(0), uint16(0))
}

// ModuleRef adds a module reference.
func (m *Metadata) ModuleRef(name string) metadata.Handle {
	return m.Row(metadata.KindModuleRef, m.String(name))
}

// TypeRef adds a type reference.
func (m *Metadata) TypeRef(scope metadata.Handle, namespace, name string) metadata.Handle {
	return m.Row(metadata.KindTypeRef, ResolutionScope(scope), m.String(name), m.String(namespace))
}

// TypeDef adds a type definition. Fields and methods added after it,
// up to the next TypeDef, belong to it.
func (m *Metadata) TypeDef(flags uint32, namespace, name string, extends metadata.Handle) metadata.Handle {
	return m.Row(metadata.KindTypeDef, flags, m.String(name), m.String(namespace),
		TypeDefOrRef(extends),
		uint16(m.count(metadata.KindField)+1),
		uint16(m.count(metadata.KindMethodDef)+1))
}

// Field adds a field to the last TypeDef.
func (m *Metadata) Field(flags uint16, name string, sig []byte) metadata.Handle {
	return m.Row(metadata.KindField, flags, m.String(name), m.Blob(sig))
}

// MethodDef adds a method to the last TypeDef.
func (m *Metadata) MethodDef(flags uint16, name string, rva uint32, sig []byte) metadata.Handle {
	return m.Row(metadata.KindMethodDef, rva, uint16(0), flags, m.String(name), m.Blob(sig),
		uint16(m.count(metadata.KindParam)+1))
}

// MemberRef adds a member reference.
func (m *Metadata) MemberRef(parent metadata.Handle, name string, sig []byte) metadata.Handle {
	return m.Row(metadata.KindMemberRef, MemberRefParent(parent), m.String(name), m.Blob(sig))
}

// StandAloneSig adds a standalone signature.
func (m *Metadata) StandAloneSig(sig []byte) metadata.Handle {
	return m.Row(metadata.KindStandAloneSig, m.Blob(sig))
}

// TypeSpec adds a type specification.
func (m *Metadata) TypeSpec(sig []byte) metadata.Handle {
	return m.Row(metadata.KindTypeSpec, m.Blob(sig))
}

// GenericParam adds a generic parameter of a TypeDef or MethodDef.
func (m *Metadata) GenericParam(owner metadata.Handle, number uint16, name string) metadata.Handle {
	return m.Row(metadata.KindGenericParam, number, uint16(0), TypeOrMethodDef(owner), m.String(name))
}

// NestedClass records nested as declared inside enclosing.
func (m *Metadata) NestedClass(nested, enclosing metadata.Handle) metadata.Handle {
	return m.Row(metadata.KindNestedClass, uint16(nested.Row()), uint16(enclosing.Row()))
}

// Document adds a portable PDB document. The name is split on '/'.
func (m *Metadata) Document(name string) metadata.Handle {
	var nameBlob uint16
	if name != "" {
		blob := []byte{'/'}
		for _, part := range strings.Split(name, "/") {
			blob = append(blob, CompressedU32(uint32(m.Blob([]byte(part))))...)
		}
		nameBlob = m.Blob(blob)
	}
	return m.Row(metadata.KindDocument, nameBlob, uint16(0), uint16(0), uint16(0))
}

// MethodDebugInformation adds a row with a nil-able document and an
// encoded sequence point blob.
func (m *Metadata) MethodDebugInformation(doc metadata.Handle, points []byte) metadata.Handle {
	return m.Row(metadata.KindMethodDebugInformation, uint16(doc.Row()), m.Blob(points))
}

// PortablePDB marks the blob as a portable PDB with the given id.
// typeSystemRows are the row counts of the associated image.
func (m *Metadata) PortablePDB(id [20]byte, typeSystemRows map[metadata.Kind]uint32) {
	m.pdb = &pdbHeader{id: id, rows: typeSystemRows}
}

// Bytes serializes the metadata root and its streams.
func (m *Metadata) Bytes() []byte {
	type streamData struct {
		name string
		data []byte
	}
	var streams []streamData
	if m.pdb != nil {
		streams = append(streams, streamData{"#Pdb", m.pdbStream()})
	}
	streams = append(streams,
		streamData{"#~", m.tableStream()},
		streamData{"#Strings", m.strings.Bytes()},
		streamData{"#US", m.userStrings.Bytes()},
		streamData{"#GUID", m.guids.Bytes()},
		streamData{"#Blob", m.blobs.Bytes()},
	)

	version := pad4([]byte("v4.0.30319\x00"))
	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		headerSize += 8 + len(pad4([]byte(s.name+"\x00")))
	}

	var out bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&out, le, metadata.Signature)
	binary.Write(&out, le, uint16(1))
	binary.Write(&out, le, uint16(1))
	binary.Write(&out, le, uint32(0))
	binary.Write(&out, le, uint32(len(version)))
	out.Write(version)
	binary.Write(&out, le, uint16(0))
	binary.Write(&out, le, uint16(len(streams)))

	offset := headerSize
	for _, s := range streams {
		size := len(pad4(s.data))
		binary.Write(&out, le, uint32(offset))
		binary.Write(&out, le, uint32(size))
		out.Write(pad4([]byte(s.name + "\x00")))
		offset += size
	}
	for _, s := range streams {
		out.Write(pad4(s.data))
	}
	return out.Bytes()
}

func (m *Metadata) pdbStream() []byte {
	var out bytes.Buffer
	le := binary.LittleEndian
	out.Write(m.pdb.id[:])
	binary.Write(&out, le, m.pdb.entryPoint)

	var mask uint64
	for k := range m.pdb.rows {
		mask |= 1 << k
	}
	binary.Write(&out, le, mask)
	for _, k := range sortedKinds(m.pdb.rows) {
		binary.Write(&out, le, m.pdb.rows[k])
	}
	return out.Bytes()
}

// SortedTables is the sorted-table mask compilers emit.
const SortedTables uint64 = 0x000016003301fa00

func (m *Metadata) tableStream() []byte {
	var out bytes.Buffer
	le := binary.LittleEndian

	counts := make(map[metadata.Kind]uint32, len(m.rows))
	var valid uint64
	for k, rows := range m.rows {
		counts[k] = uint32(len(rows))
		valid |= 1 << k
	}

	binary.Write(&out, le, uint32(0))
	out.WriteByte(2) // MajorVersion
	out.WriteByte(0) // MinorVersion
	out.WriteByte(0) // HeapSizes
	out.WriteByte(1)
	binary.Write(&out, le, valid)
	binary.Write(&out, le, SortedTables)

	kinds := sortedKinds(counts)
	for _, k := range kinds {
		binary.Write(&out, le, counts[k])
	}
	for _, k := range kinds {
		for _, row := range m.rows[k] {
			for _, v := range row {
				binary.Write(&out, le, v)
			}
		}
	}
	return out.Bytes()
}

func sortedKinds(m map[metadata.Kind]uint32) []metadata.Kind {
	kinds := make([]metadata.Kind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func coded(h metadata.Handle, tables ...metadata.Kind) uint16 {
	if h.IsNil() {
		return 0
	}
	tagBits := bits.Len(uint(len(tables) - 1))
	for tag, k := range tables {
		if k == h.Kind() {
			return uint16(h.Row()<<tagBits | uint32(tag))
		}
	}
	panic("testimage: handle " + h.String() + " not valid for coded index")
}

// TypeDefOrRef encodes a TypeDefOrRef coded index.
func TypeDefOrRef(h metadata.Handle) uint16 {
	return coded(h, metadata.KindTypeDef, metadata.KindTypeRef, metadata.KindTypeSpec)
}

// ResolutionScope encodes a ResolutionScope coded index.
func ResolutionScope(h metadata.Handle) uint16 {
	return coded(h, metadata.KindModule, metadata.KindModuleRef, metadata.KindAssemblyRef, metadata.KindTypeRef)
}

// MemberRefParent encodes a MemberRefParent coded index.
func MemberRefParent(h metadata.Handle) uint16 {
	return coded(h, metadata.KindTypeDef, metadata.KindTypeRef, metadata.KindModuleRef,
		metadata.KindMethodDef, metadata.KindTypeSpec)
}

// TypeOrMethodDef encodes a TypeOrMethodDef coded index.
func TypeOrMethodDef(h metadata.Handle) uint16 {
	return coded(h, metadata.KindTypeDef, metadata.KindMethodDef)
}
