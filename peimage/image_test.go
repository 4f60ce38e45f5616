package peimage_test

import (
	"bytes"
	"encoding/binary"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/clrsym/internal/testimage"
	"github.com/skdltmxn/clrsym/metadata"
	"github.com/skdltmxn/clrsym/peimage"
)

var (
	tinyBody = []byte{0x0a, 0x00, 0x2a} // tiny header, 2 code bytes

	// Fat header with InitLocals and MoreSects, one small EH section
	// holding a catch clause.
	fatBody = []byte{
		0x1b, 0x30, // flags, header size 3 dwords
		0x02, 0x00, // MaxStack
		0x05, 0x00, 0x00, 0x00, // CodeSize
		0x01, 0x00, 0x00, 0x11, // LocalVarSigTok
		0x00, 0x00, 0x00, 0x00, 0x2a, // code
		0x00, 0x00, 0x00, // padding
		0x01, 0x10, 0x00, 0x00, // small EH table, 16 bytes
		0x00, 0x00, 0x00, 0x00, 0x02, 0x02, 0x00, 0x03, 0x02, 0x00, 0x00, 0x01,
	}

	// Fat header without locals, one fat EH section holding a finally
	// clause and a filter clause.
	fatEHBody = []byte{
		0x0b, 0x30,
		0x08, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x2a,
		0x00, 0x00, 0x00,
		0x41, 0x34, 0x00, 0x00, // fat EH table, 52 bytes
		0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00,
		0x10, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00,
		0x14, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x0c, 0x00, 0x00, 0x00,
	}
)

type imageFixture struct {
	data             []byte
	tiny, fat, fatEH uint32
	embedded         []byte
	guid             [16]byte
}

func buildImage(t *testing.T) imageFixture {
	t.Helper()
	p := testimage.NewPE()
	f := imageFixture{guid: [16]byte{0xde, 0xad, 0xbe, 0xef}}
	f.tiny = p.AddMethodBody(tinyBody)
	f.fat = p.AddMethodBody(fatBody)
	f.fatEH = p.AddMethodBody(fatEHBody)

	md := testimage.NewMetadata()
	md.Module("Image.dll", [16]byte{})
	md.TypeDef(0, "", "<Module>", 0)
	md.MethodDef(0, "Tiny", f.tiny, []byte{0x00, 0x00, 0x01})
	md.MethodDef(0, "Fat", f.fat, []byte{0x00, 0x00, 0x01})
	p.SetMetadata(md.Bytes())

	pdb := testimage.NewMetadata()
	pdb.PortablePDB([20]byte{1}, nil)
	pdb.Document("a.cs")
	f.embedded = pdb.Bytes()

	p.AddCodeView(f.guid, 1, 0x11223344, `C:\build\Image.pdb`, true)
	p.AddEmbeddedPDB(f.embedded)
	f.data = p.Bytes()
	return f
}

func openImage(t *testing.T, data []byte) *peimage.Image {
	t.Helper()
	img, err := peimage.NewImage(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

func TestOpen(t *testing.T) {
	f := buildImage(t)
	path := testimage.WriteFile(t, t.TempDir(), "Image.dll", f.data)

	for _, prefetch := range []bool{false, true} {
		img, err := peimage.Open(path, peimage.Options{Prefetch: prefetch})
		require.NoError(t, err)

		assert.True(t, img.HasMetadata())
		assert.Equal(t, uint16(0x14c), img.Machine())
		cli := img.CLIHeader()
		require.NotNil(t, cli)
		assert.Equal(t, uint16(2), cli.MajorRuntimeVersion)

		data, err := img.Metadata()
		require.NoError(t, err)
		md, err := metadata.Parse(data)
		require.NoError(t, err)
		assert.Equal(t, 2, md.RowCount(metadata.KindMethodDef))

		require.NoError(t, img.Close())
		require.NoError(t, img.Close())
		_, err = img.ReadRVA(testimage.TextRVA, 4)
		assert.ErrorIs(t, err, peimage.ErrImageClosed)
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := peimage.Open(dir+"/missing.dll", peimage.Options{})
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, peimage.ErrBadImage)

	text := testimage.WriteFile(t, dir, "notes.txt", []byte("not an image"))
	for _, prefetch := range []bool{true, false} {
		_, err = peimage.Open(text, peimage.Options{Prefetch: prefetch})
		assert.ErrorIs(t, err, peimage.ErrBadImage)
	}
}

func TestNativeImage(t *testing.T) {
	p := testimage.NewPE()
	p.NoCLI = true
	img := openImage(t, p.Bytes())

	assert.False(t, img.HasMetadata())
	assert.Nil(t, img.CLIHeader())
	_, err := img.Metadata()
	assert.ErrorIs(t, err, peimage.ErrNoCLIHeader)

	entries, err := img.DebugDirectory()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadRVAOutOfRange(t *testing.T) {
	img := openImage(t, buildImage(t).data)

	_, err := img.ReadRVA(0x100, 4)
	assert.ErrorIs(t, err, peimage.ErrInvalidRVA)
	_, err = img.ReadRVA(testimage.TextRVA, 0x100000)
	assert.ErrorIs(t, err, peimage.ErrInvalidRVA)
}

func TestMethodBody(t *testing.T) {
	f := buildImage(t)
	img := openImage(t, f.data)

	t.Run("tiny", func(t *testing.T) {
		body, err := img.MethodBody(f.tiny)
		require.NoError(t, err)
		assert.Equal(t, 8, body.MaxStack)
		assert.Equal(t, 2, body.CodeSize)
		assert.Equal(t, []byte{0x00, 0x2a}, body.Code)
		assert.True(t, body.LocalSignature.IsNil())
		assert.False(t, body.InitLocals)
		assert.Empty(t, body.ExceptionRegions)
	})

	t.Run("fat with small clauses", func(t *testing.T) {
		body, err := img.MethodBody(f.fat)
		require.NoError(t, err)
		assert.Equal(t, 2, body.MaxStack)
		assert.Equal(t, 5, body.CodeSize)
		assert.Equal(t, []byte{0, 0, 0, 0, 0x2a}, body.Code)
		assert.True(t, body.InitLocals)
		assert.Equal(t, metadata.NewHandle(metadata.KindStandAloneSig, 1), body.LocalSignature)
		assert.Equal(t, []peimage.ExceptionRegion{{
			Kind:          peimage.ExceptionRegionCatch,
			TryOffset:     0,
			TryLength:     2,
			HandlerOffset: 2,
			HandlerLength: 3,
			CatchType:     metadata.NewHandle(metadata.KindTypeRef, 2),
		}}, body.ExceptionRegions)
	})

	t.Run("fat with fat clauses", func(t *testing.T) {
		body, err := img.MethodBody(f.fatEH)
		require.NoError(t, err)
		assert.True(t, body.LocalSignature.IsNil())
		require.Len(t, body.ExceptionRegions, 2)

		finally := body.ExceptionRegions[0]
		assert.Equal(t, peimage.ExceptionRegionFinally, finally.Kind)
		assert.Equal(t, 0x10, finally.TryLength)
		assert.Equal(t, 0x10, finally.HandlerOffset)
		assert.Equal(t, 4, finally.HandlerLength)
		assert.Equal(t, "finally", finally.Kind.String())

		filter := body.ExceptionRegions[1]
		assert.Equal(t, peimage.ExceptionRegionFilter, filter.Kind)
		assert.Equal(t, 0x0c, filter.FilterOffset)
		assert.Zero(t, filter.CatchType)
	})

	t.Run("bad header", func(t *testing.T) {
		p := testimage.NewPE()
		rva := p.AddMethodBody([]byte{0x00, 0x00})
		img := openImage(t, p.Bytes())
		_, err := img.MethodBody(rva)
		assert.ErrorIs(t, err, peimage.ErrBadMethodBody)
	})
}

func TestDebugDirectory(t *testing.T) {
	f := buildImage(t)
	img := openImage(t, f.data)

	entries, err := img.DebugDirectory()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, uint32(peimage.DebugTypeCodeView), entries[0].Type)
	assert.True(t, entries[0].IsPortableCodeView())
	cv, err := img.CodeView(entries[0])
	require.NoError(t, err)
	assert.Equal(t, f.guid, cv.GUID)
	assert.Equal(t, uint32(1), cv.Age)
	assert.Equal(t, `C:\build\Image.pdb`, cv.Path)

	id := cv.PDBID()
	assert.Equal(t, f.guid[:], id[:16])
	assert.Equal(t, uint32(0x11223344), binary.LittleEndian.Uint32(id[16:]))

	assert.Equal(t, uint32(peimage.DebugTypeEmbeddedPortablePDB), entries[1].Type)
	assert.False(t, entries[1].IsPortableCodeView())
	pdb, err := img.EmbeddedPortablePDB(entries[1])
	require.NoError(t, err)
	assert.Equal(t, f.embedded, pdb)

	_, err = img.CodeView(entries[1])
	assert.ErrorIs(t, err, peimage.ErrBadDebugData)
	_, err = img.EmbeddedPortablePDB(entries[0])
	assert.ErrorIs(t, err, peimage.ErrBadDebugData)
}

func TestEmbeddedPDBBadSize(t *testing.T) {
	tests := map[string][]byte{
		"size mismatch":   []byte("MPDB\xff\x00\x00\x00\x03\x00"),
		"no payload":      []byte("MPDB\xff\x00\x00\x00"),
		"impossible size": append([]byte("MPDB\x00\x00\x00\xf0"), make([]byte, 16)...),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			p := testimage.NewPE()
			p.AddDebugEntry(peimage.DebugTypeEmbeddedPortablePDB, 0, 0x100, 0x100, data)
			img := openImage(t, p.Bytes())

			entries, err := img.DebugDirectory()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			_, err = img.EmbeddedPortablePDB(entries[0])
			assert.ErrorIs(t, err, peimage.ErrBadDebugData)
		})
	}
}
