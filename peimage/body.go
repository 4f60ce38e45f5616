package peimage

import (
	"encoding/binary"
	"fmt"

	"github.com/skdltmxn/clrsym/metadata"
)

// Method header formats, ECMA-335 II.25.4.
const (
	headerFormatMask = 0x3
	headerTiny       = 0x2
	headerFat        = 0x3

	fatFlagMoreSects  = 0x08
	fatFlagInitLocals = 0x10
	fatHeaderSize     = 12

	tinyMaxStack = 8
)

// Method data section flags, ECMA-335 II.25.4.5.
const (
	sectEHTable    = 0x01
	sectFatFormat  = 0x40
	sectMoreSects  = 0x80
	smallClauseLen = 12
	fatClauseLen   = 24
)

// ExceptionRegionKind is the kind of an exception handling clause.
type ExceptionRegionKind uint32

const (
	ExceptionRegionCatch   ExceptionRegionKind = 0x0
	ExceptionRegionFilter  ExceptionRegionKind = 0x1
	ExceptionRegionFinally ExceptionRegionKind = 0x2
	ExceptionRegionFault   ExceptionRegionKind = 0x4
)

func (k ExceptionRegionKind) String() string {
	switch k {
	case ExceptionRegionCatch:
		return "catch"
	case ExceptionRegionFilter:
		return "filter"
	case ExceptionRegionFinally:
		return "finally"
	case ExceptionRegionFault:
		return "fault"
	}
	return fmt.Sprintf("kind(0x%x)", uint32(k))
}

// ExceptionRegion is one exception handling clause of a method body.
type ExceptionRegion struct {
	Kind          ExceptionRegionKind
	TryOffset     int
	TryLength     int
	HandlerOffset int
	HandlerLength int

	// CatchType is set for catch clauses.
	CatchType metadata.Handle
	// FilterOffset is set for filter clauses.
	FilterOffset int
}

// MethodBody is a decoded IL method body. Its bytes are copied out of the
// image and remain valid after the image is closed.
type MethodBody struct {
	MaxStack         int
	CodeSize         int
	LocalSignature   metadata.Handle
	InitLocals       bool
	Code             []byte
	ExceptionRegions []ExceptionRegion
}

// MethodBody decodes the method body at rva.
func (img *Image) MethodBody(rva uint32) (*MethodBody, error) {
	first, err := img.ReadRVA(rva, 1)
	if err != nil {
		return nil, err
	}

	switch first[0] & headerFormatMask {
	case headerTiny:
		size := uint32(first[0] >> 2)
		code, err := img.ReadRVA(rva+1, size)
		if err != nil {
			return nil, err
		}
		return &MethodBody{
			MaxStack:       tinyMaxStack,
			CodeSize:       int(size),
			LocalSignature: metadata.NewHandle(metadata.KindStandAloneSig, 0),
			Code:           code,
		}, nil

	case headerFat:
		return img.fatMethodBody(rva)
	}

	return nil, fmt.Errorf("%w: header byte 0x%02x at RVA 0x%x", ErrBadMethodBody, first[0], rva)
}

func (img *Image) fatMethodBody(rva uint32) (*MethodBody, error) {
	hdr, err := img.ReadRVA(rva, fatHeaderSize)
	if err != nil {
		return nil, err
	}
	flagsAndSize := binary.LittleEndian.Uint16(hdr[0:])
	flags := flagsAndSize & 0x0fff
	headerSize := uint32(flagsAndSize>>12) * 4
	if headerSize < fatHeaderSize {
		return nil, fmt.Errorf("%w: fat header size %d at RVA 0x%x", ErrBadMethodBody, headerSize, rva)
	}

	body := &MethodBody{
		MaxStack:       int(binary.LittleEndian.Uint16(hdr[2:])),
		CodeSize:       int(binary.LittleEndian.Uint32(hdr[4:])),
		LocalSignature: metadata.HandleFromToken(binary.LittleEndian.Uint32(hdr[8:])),
		InitLocals:     flags&fatFlagInitLocals != 0,
	}
	if body.LocalSignature.IsNil() {
		body.LocalSignature = metadata.NewHandle(metadata.KindStandAloneSig, 0)
	}

	codeRVA := rva + headerSize
	if body.Code, err = img.ReadRVA(codeRVA, uint32(body.CodeSize)); err != nil {
		return nil, err
	}

	if flags&fatFlagMoreSects != 0 {
		next := align4(codeRVA + uint32(body.CodeSize))
		if body.ExceptionRegions, err = img.dataSections(next); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (img *Image) dataSections(rva uint32) ([]ExceptionRegion, error) {
	var regions []ExceptionRegion
	for {
		hdr, err := img.ReadRVA(rva, 4)
		if err != nil {
			return nil, err
		}
		kind := hdr[0]
		fat := kind&sectFatFormat != 0

		var size uint32
		if fat {
			size = uint32(hdr[1]) | uint32(hdr[2])<<8 | uint32(hdr[3])<<16
		} else {
			size = uint32(hdr[1])
		}
		if size < 4 {
			return nil, fmt.Errorf("%w: data section size %d at RVA 0x%x", ErrBadMethodBody, size, rva)
		}

		if kind&sectEHTable != 0 {
			data, err := img.ReadRVA(rva+4, size-4)
			if err != nil {
				return nil, err
			}
			regions = append(regions, decodeClauses(data, fat)...)
		}

		if kind&sectMoreSects == 0 {
			return regions, nil
		}
		rva = align4(rva + size)
	}
}

func decodeClauses(data []byte, fat bool) []ExceptionRegion {
	var regions []ExceptionRegion
	le := binary.LittleEndian
	if fat {
		for ; len(data) >= fatClauseLen; data = data[fatClauseLen:] {
			regions = append(regions, newRegion(
				le.Uint32(data[0:]), le.Uint32(data[4:]), le.Uint32(data[8:]),
				le.Uint32(data[12:]), le.Uint32(data[16:]), le.Uint32(data[20:])))
		}
		return regions
	}
	for ; len(data) >= smallClauseLen; data = data[smallClauseLen:] {
		regions = append(regions, newRegion(
			uint32(le.Uint16(data[0:])), uint32(le.Uint16(data[2:])), uint32(data[4]),
			uint32(le.Uint16(data[5:])), uint32(data[7]), le.Uint32(data[8:])))
	}
	return regions
}

func newRegion(flags, tryOff, tryLen, handlerOff, handlerLen, extra uint32) ExceptionRegion {
	r := ExceptionRegion{
		Kind:          ExceptionRegionKind(flags),
		TryOffset:     int(tryOff),
		TryLength:     int(tryLen),
		HandlerOffset: int(handlerOff),
		HandlerLength: int(handlerLen),
	}
	switch r.Kind {
	case ExceptionRegionCatch:
		r.CatchType = metadata.HandleFromToken(extra)
	case ExceptionRegionFilter:
		r.FilterOffset = int(extra)
	}
	return r
}

func align4(v uint32) uint32 {
	return (v + 3) &^ 3
}
