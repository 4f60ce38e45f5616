package symbols

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/skdltmxn/clrsym/metadata"
)

// SequencePoint maps an IL offset of a method to a span of its source
// document. Hidden points carry line metadata.HiddenLine.
type SequencePoint struct {
	Document  string `json:"document" yaml:"document"`
	LineStart int    `json:"lineStart" yaml:"lineStart"`
	LineEnd   int    `json:"lineEnd" yaml:"lineEnd"`
	ColStart  int    `json:"colStart" yaml:"colStart"`
	ColEnd    int    `json:"colEnd" yaml:"colEnd"`
	Offset    int    `json:"offset" yaml:"offset"`
}

// IsHidden reports whether the point hides its IL range from the debugger.
func (sp SequencePoint) IsHidden() bool { return sp.LineStart == metadata.HiddenLine }

// DebugInfo is a parsed portable PDB associated with an image.
type DebugInfo struct {
	// Source is the file the PDB was read from, or "embedded".
	Source string

	md *metadata.Reader
}

// Metadata returns the PDB metadata.
func (d *DebugInfo) Metadata() *metadata.Reader { return d.md }

// DocumentPath returns the name of the document h. A nil handle or an
// unnamed document yields "".
func (d *DebugInfo) DocumentPath(h metadata.Handle) (string, error) {
	if h.IsNil() {
		return "", nil
	}
	doc, err := d.md.Document(h)
	if err != nil {
		return "", err
	}
	return d.md.DocumentName(doc.Name)
}

// Extractor reads sequence points from the program database of an image.
// Images are opened per call and never shared with a Cache.
type Extractor struct {
	logger   zerolog.Logger
	embedded *lru.Cache[string, *DebugInfo]
}

// NewExtractor returns an extractor. WithEmbeddedCache enables reuse of
// decompressed embedded program databases.
func NewExtractor(opts ...Option) *Extractor {
	o := buildOptions(opts)
	e := &Extractor{logger: o.logger}
	if o.embeddedCache > 0 {
		// lru.New only fails for a non-positive size.
		e.embedded, _ = lru.New[string, *DebugInfo](o.embeddedCache)
	}
	return e
}

// SequencePoints returns the sequence points of the method identified by
// token in blob order. token is a MethodDef token, a MethodDebugInformation
// token or a bare row number. The result is empty when the image is
// missing, has no debug information, or the method has no points.
func (e *Extractor) SequencePoints(imagePath string, token uint32) ([]SequencePoint, error) {
	if _, ok := methodDebugHandle(token); !ok {
		return []SequencePoint{}, nil
	}
	info, err := e.DebugInfo(imagePath)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return []SequencePoint{}, nil
	}
	return info.SequencePoints(token)
}

// SequencePoints returns the sequence points of a method, accepting the
// same tokens as (*Extractor).SequencePoints. A method without a row or
// without points has none.
func (d *DebugInfo) SequencePoints(token uint32) ([]SequencePoint, error) {
	h, ok := methodDebugHandle(token)
	if !ok || int(h.Row()) > d.md.RowCount(metadata.KindMethodDebugInformation) {
		return []SequencePoint{}, nil
	}

	mdi, err := d.md.MethodDebugInformation(h)
	if err != nil {
		return nil, fmt.Errorf("symbols: %s: %w", d.Source, err)
	}
	points, err := d.md.SequencePoints(mdi)
	if err != nil {
		return nil, fmt.Errorf("symbols: %s: %w", d.Source, err)
	}

	paths := make(map[metadata.Handle]string)
	out := make([]SequencePoint, 0, len(points))
	for _, p := range points {
		path, ok := paths[p.Document]
		if !ok {
			if path, err = d.DocumentPath(p.Document); err != nil {
				return nil, fmt.Errorf("symbols: %s: %w", d.Source, err)
			}
			paths[p.Document] = path
		}
		out = append(out, SequencePoint{
			Document:  path,
			LineStart: p.StartLine,
			LineEnd:   p.EndLine,
			ColStart:  p.StartColumn,
			ColEnd:    p.EndColumn,
			Offset:    p.Offset,
		})
	}
	return out, nil
}

func methodDebugHandle(token uint32) (metadata.Handle, bool) {
	h := metadata.HandleFromToken(token)
	switch h.Kind() {
	case 0: // bare row
	case metadata.KindMethodDef, metadata.KindMethodDebugInformation:
	default:
		return 0, false
	}
	if h.IsNil() {
		return 0, false
	}
	return metadata.NewHandle(metadata.KindMethodDebugInformation, h.Row()), true
}
