package testimage

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"

	"github.com/skdltmxn/clrsym/peimage"
)

// Layout of the generated image: one .text section holding everything.
const (
	TextRVA    = 0x2000
	textOffset = 0x200
	fileAlign  = 0x200
	sectAlign  = 0x2000
	cliSize    = 72
)

// PE builds a PE32 image with a single .text section.
type PE struct {
	text     bytes.Buffer
	metadata []byte
	debug    []debugEntry

	// NoCLI omits the CLI header, producing a native image.
	NoCLI bool
}

type debugEntry struct {
	entry peimage.DebugEntry
	data  []byte
}

// NewPE returns an empty image builder. Method bodies can be added
// before the metadata is known; their RVAs do not move.
func NewPE() *PE {
	p := &PE{}
	p.text.Write(make([]byte, cliSize))
	return p
}

// AddMethodBody places a method body and returns its RVA.
func (p *PE) AddMethodBody(body []byte) uint32 {
	for p.text.Len()%4 != 0 {
		p.text.WriteByte(0)
	}
	rva := uint32(TextRVA + p.text.Len())
	p.text.Write(body)
	return rva
}

// SetMetadata sets the metadata blob referenced by the CLI header.
func (p *PE) SetMetadata(md []byte) { p.metadata = md }

// AddDebugEntry adds a raw debug directory entry.
func (p *PE) AddDebugEntry(typ uint32, stamp uint32, major, minor uint16, data []byte) {
	p.debug = append(p.debug, debugEntry{
		entry: peimage.DebugEntry{
			TimeDateStamp: stamp,
			MajorVersion:  major,
			MinorVersion:  minor,
			Type:          typ,
			SizeOfData:    uint32(len(data)),
		},
		data: data,
	})
}

// AddCodeView adds a CodeView entry naming a PDB. A portable entry
// carries the minor version portable PDBs are tagged with.
func (p *PE) AddCodeView(guid [16]byte, age, stamp uint32, path string, portable bool) {
	var data bytes.Buffer
	data.WriteString("RSDS")
	data.Write(guid[:])
	binary.Write(&data, binary.LittleEndian, age)
	data.WriteString(path)
	data.WriteByte(0)

	var major, minor uint16
	if portable {
		major, minor = 0x0100, 0x504d
	}
	p.AddDebugEntry(peimage.DebugTypeCodeView, stamp, major, minor, data.Bytes())
}

// AddEmbeddedPDB compresses pdb into an embedded portable PDB entry.
func (p *PE) AddEmbeddedPDB(pdb []byte) {
	var data bytes.Buffer
	data.WriteString("MPDB")
	binary.Write(&data, binary.LittleEndian, uint32(len(pdb)))
	zw, err := flate.NewWriter(&data, flate.BestCompression)
	if err != nil {
		panic(err)
	}
	zw.Write(pdb)
	zw.Close()
	p.AddDebugEntry(peimage.DebugTypeEmbeddedPortablePDB, 0, 0x0100, 0x0100, data.Bytes())
}

// Bytes serializes the image.
func (p *PE) Bytes() []byte {
	le := binary.LittleEndian
	text := bytes.NewBuffer(append([]byte(nil), p.text.Bytes()...))
	align := func() {
		for text.Len()%4 != 0 {
			text.WriteByte(0)
		}
	}

	align()
	mdRVA := uint32(TextRVA + text.Len())
	text.Write(p.metadata)

	var dirs [16]pe.DataDirectory
	if len(p.debug) > 0 {
		align()
		dirRVA := uint32(TextRVA + text.Len())
		dirSize := uint32(len(p.debug) * 28)
		text.Write(make([]byte, dirSize))
		dirs[6] = pe.DataDirectory{VirtualAddress: dirRVA, Size: dirSize}

		entries := make([]peimage.DebugEntry, len(p.debug))
		for i, d := range p.debug {
			align()
			e := d.entry
			e.AddressOfRawData = uint32(TextRVA + text.Len())
			e.PointerToRawData = uint32(textOffset + text.Len())
			text.Write(d.data)
			entries[i] = e
		}
		var dir bytes.Buffer
		binary.Write(&dir, le, entries)
		copy(text.Bytes()[dirRVA-TextRVA:], dir.Bytes())
	}

	if !p.NoCLI {
		dirs[14] = pe.DataDirectory{VirtualAddress: TextRVA, Size: cliSize}
		cli := peimage.CLIHeader{
			SizeOfHeader:        cliSize,
			MajorRuntimeVersion: 2,
			MinorRuntimeVersion: 5,
			MetaData:            pe.DataDirectory{VirtualAddress: mdRVA, Size: uint32(len(p.metadata))},
			Flags:               1, // ILONLY
		}
		var hdr bytes.Buffer
		binary.Write(&hdr, le, cli)
		copy(text.Bytes(), hdr.Bytes())
	}

	virtualSize := uint32(text.Len())
	for text.Len()%fileAlign != 0 {
		text.WriteByte(0)
	}
	rawSize := uint32(text.Len())

	var out bytes.Buffer
	dos := make([]byte, 0x80)
	dos[0], dos[1] = 'M', 'Z'
	le.PutUint32(dos[0x3c:], 0x80)
	out.Write(dos)
	out.WriteString("PE\x00\x00")

	binary.Write(&out, le, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     1,
		SizeOfOptionalHeader: 224,
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE | pe.IMAGE_FILE_DLL,
	})
	binary.Write(&out, le, pe.OptionalHeader32{
		Magic:                 0x10b,
		MajorLinkerVersion:    48,
		SizeOfCode:            rawSize,
		BaseOfCode:            TextRVA,
		ImageBase:             0x10000000,
		SectionAlignment:      sectAlign,
		FileAlignment:         fileAlign,
		MajorSubsystemVersion: 4,
		SizeOfImage:           TextRVA + (virtualSize+sectAlign-1)&^(sectAlign-1),
		SizeOfHeaders:         textOffset,
		Subsystem:             pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		SizeOfStackReserve:    0x100000,
		SizeOfStackCommit:     0x1000,
		SizeOfHeapReserve:     0x100000,
		SizeOfHeapCommit:      0x1000,
		NumberOfRvaAndSizes:   16,
		DataDirectory:         dirs,
	})
	var name [8]uint8
	copy(name[:], ".text")
	binary.Write(&out, le, pe.SectionHeader32{
		Name:             name,
		VirtualSize:      virtualSize,
		VirtualAddress:   TextRVA,
		SizeOfRawData:    rawSize,
		PointerToRawData: textOffset,
		Characteristics:  pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ,
	})
	for out.Len() < textOffset {
		out.WriteByte(0)
	}
	out.Write(text.Bytes())
	return out.Bytes()
}

// WriteFile writes data to name inside dir and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
