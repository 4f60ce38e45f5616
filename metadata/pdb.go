package metadata

import (
	"fmt"
	"strings"

	"github.com/skdltmxn/clrsym/internal/stream"
)

// HiddenLine is the line number of a hidden sequence point.
const HiddenLine = 0xfeefee

// Document is a row of the portable PDB Document table.
type Document struct {
	Name          BlobHandle
	HashAlgorithm GUIDHandle
	Hash          BlobHandle
	Language      GUIDHandle
}

// MethodDebugInformation is a row of the MethodDebugInformation table. Its
// rows parallel the MethodDef table of the associated image.
type MethodDebugInformation struct {
	Document       Handle
	SequencePoints BlobHandle
}

// SequencePoint maps an IL offset to a source span.
type SequencePoint struct {
	Document    Handle
	Offset      int
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// IsHidden reports whether the point hides its IL range from the debugger.
func (sp SequencePoint) IsHidden() bool { return sp.StartLine == HiddenLine }

// Document returns the Document row for h.
func (md *Reader) Document(h Handle) (Document, error) {
	if err := checkKind(h, KindDocument); err != nil {
		return Document{}, err
	}
	row := h.Row()
	var vals [4]uint32
	for col := range vals {
		v, err := md.cell(KindDocument, row, col)
		if err != nil {
			return Document{}, err
		}
		vals[col] = v
	}
	return Document{
		Name:          BlobHandle(vals[colDocumentName]),
		HashAlgorithm: GUIDHandle(vals[colDocumentHashAlg]),
		Hash:          BlobHandle(vals[colDocumentHash]),
		Language:      GUIDHandle(vals[colDocumentLanguage]),
	}, nil
}

// DocumentName decodes a document name blob: a separator character
// followed by blob indexes of the UTF-8 parts.
func (md *Reader) DocumentName(h BlobHandle) (string, error) {
	if h.IsNil() {
		return "", nil
	}
	data, err := md.Blob(h)
	if err != nil {
		return "", err
	}
	r := stream.NewReader(data)
	sep, err := r.ReadU8()
	if err != nil {
		return "", nil
	}

	var sb strings.Builder
	for first := true; r.Remaining() > 0; first = false {
		part, err := r.ReadCompressedU32()
		if err != nil {
			return "", fmt.Errorf("metadata: document name at 0x%x: %w", uint32(h), err)
		}
		if !first && sep != 0 {
			sb.WriteByte(sep)
		}
		b, err := md.Blob(BlobHandle(part))
		if err != nil {
			return "", err
		}
		sb.Write(b)
	}
	return sb.String(), nil
}

// MethodDebugInformation returns the row for h. A MethodDef handle is
// accepted and mapped to the row with the same number.
func (md *Reader) MethodDebugInformation(h Handle) (MethodDebugInformation, error) {
	if h.Kind() == KindMethodDef {
		h = NewHandle(KindMethodDebugInformation, h.Row())
	}
	if err := checkKind(h, KindMethodDebugInformation); err != nil {
		return MethodDebugInformation{}, err
	}
	doc, err := md.cell(KindMethodDebugInformation, h.Row(), colMethodDebugDocument)
	if err != nil {
		return MethodDebugInformation{}, err
	}
	points, err := md.cell(KindMethodDebugInformation, h.Row(), colMethodDebugPoints)
	if err != nil {
		return MethodDebugInformation{}, err
	}
	return MethodDebugInformation{
		Document:       NewHandle(KindDocument, doc),
		SequencePoints: BlobHandle(points),
	}, nil
}

// SequencePoints decodes the sequence point blob of a method, in blob
// order. A method without a blob has no points.
func (md *Reader) SequencePoints(info MethodDebugInformation) ([]SequencePoint, error) {
	if info.SequencePoints.IsNil() {
		return nil, nil
	}
	data, err := md.Blob(info.SequencePoints)
	if err != nil {
		return nil, err
	}
	points, err := decodeSequencePoints(data, info.Document)
	if err != nil {
		return nil, fmt.Errorf("metadata: sequence points at 0x%x: %w", uint32(info.SequencePoints), err)
	}
	return points, nil
}

func decodeSequencePoints(data []byte, doc Handle) ([]SequencePoint, error) {
	r := stream.NewReader(data)

	// LocalSignature
	if _, err := r.ReadCompressedU32(); err != nil {
		return nil, err
	}
	if doc.IsNil() {
		row, err := r.ReadCompressedU32()
		if err != nil {
			return nil, err
		}
		doc = NewHandle(KindDocument, row)
	}

	var (
		points    []SequencePoint
		offset    int
		prevLine  int
		prevCol   int
		haveFirst bool
		seenPoint bool
	)
	for r.Remaining() > 0 {
		delta, err := r.ReadCompressedU32()
		if err != nil {
			return nil, err
		}
		if seenPoint && delta == 0 {
			row, err := r.ReadCompressedU32()
			if err != nil {
				return nil, err
			}
			doc = NewHandle(KindDocument, row)
			continue
		}
		if seenPoint {
			offset += int(delta)
		} else {
			offset = int(delta)
		}
		seenPoint = true

		dLines, err := r.ReadCompressedU32()
		if err != nil {
			return nil, err
		}
		var dCols int
		if dLines == 0 {
			v, err := r.ReadCompressedU32()
			if err != nil {
				return nil, err
			}
			dCols = int(v)
		} else {
			v, err := r.ReadCompressedI32()
			if err != nil {
				return nil, err
			}
			dCols = int(v)
		}

		sp := SequencePoint{Document: doc, Offset: offset}
		if dLines == 0 && dCols == 0 {
			sp.StartLine, sp.EndLine = HiddenLine, HiddenLine
			points = append(points, sp)
			continue
		}

		if haveFirst {
			dl, err := r.ReadCompressedI32()
			if err != nil {
				return nil, err
			}
			dc, err := r.ReadCompressedI32()
			if err != nil {
				return nil, err
			}
			prevLine += int(dl)
			prevCol += int(dc)
		} else {
			l, err := r.ReadCompressedU32()
			if err != nil {
				return nil, err
			}
			c, err := r.ReadCompressedU32()
			if err != nil {
				return nil, err
			}
			prevLine, prevCol = int(l), int(c)
			haveFirst = true
		}

		sp.StartLine = prevLine
		sp.StartColumn = prevCol
		sp.EndLine = prevLine + int(dLines)
		sp.EndColumn = prevCol + dCols
		points = append(points, sp)
	}
	return points, nil
}
