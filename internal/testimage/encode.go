// Package testimage builds synthetic managed images, metadata blobs and
// portable PDBs for tests.
package testimage

import "encoding/binary"

// CompressedU32 encodes v in the ECMA-335 II.23.2 compressed form.
func CompressedU32(v uint32) []byte {
	switch {
	case v < 0x80:
		return []byte{byte(v)}
	case v < 0x4000:
		return []byte{byte(v>>8) | 0x80, byte(v)}
	default:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v|0xC0000000)
		return b
	}
}

// CompressedI32 encodes v in the signed compressed form, with the sign
// rotated into the least significant bit.
func CompressedI32(v int32) []byte {
	rot := uint32(v)<<1 | uint32(v)>>31
	switch {
	case v >= -0x40 && v < 0x40:
		return []byte{byte(rot & 0x7f)}
	case v >= -0x2000 && v < 0x2000:
		rot &= 0x3fff
		return []byte{byte(rot>>8) | 0x80, byte(rot)}
	default:
		rot &= 0x1fffffff
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, rot|0xC0000000)
		return b
	}
}

// Point is a sequence point to encode. A zero Document keeps the current
// document.
type Point struct {
	Offset      int
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
	Hidden      bool
	Document    uint32
}

// SequencePoints encodes a sequence point blob. initialDocument is written
// to the header when non-zero, for methods whose MethodDebugInformation
// row has no document.
func SequencePoints(localSig, initialDocument uint32, points []Point) []byte {
	out := CompressedU32(localSig)
	doc := initialDocument
	if initialDocument != 0 {
		out = append(out, CompressedU32(initialDocument)...)
	}

	var prevOffset, prevLine, prevCol int
	haveFirst := false
	for i, p := range points {
		if i > 0 && p.Document != 0 && p.Document != doc {
			out = append(out, 0)
			out = append(out, CompressedU32(p.Document)...)
			doc = p.Document
		}
		if i == 0 {
			out = append(out, CompressedU32(uint32(p.Offset))...)
		} else {
			out = append(out, CompressedU32(uint32(p.Offset-prevOffset))...)
		}
		prevOffset = p.Offset

		if p.Hidden {
			out = append(out, 0, 0)
			continue
		}
		dLines := p.EndLine - p.StartLine
		dCols := p.EndColumn - p.StartColumn
		out = append(out, CompressedU32(uint32(dLines))...)
		if dLines == 0 {
			out = append(out, CompressedU32(uint32(dCols))...)
		} else {
			out = append(out, CompressedI32(int32(dCols))...)
		}
		if haveFirst {
			out = append(out, CompressedI32(int32(p.StartLine-prevLine))...)
			out = append(out, CompressedI32(int32(p.StartColumn-prevCol))...)
		} else {
			out = append(out, CompressedU32(uint32(p.StartLine))...)
			out = append(out, CompressedU32(uint32(p.StartColumn))...)
			haveFirst = true
		}
		prevLine, prevCol = p.StartLine, p.StartColumn
	}
	return out
}
