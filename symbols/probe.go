package symbols

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skdltmxn/clrsym/internal/logging"
	"github.com/skdltmxn/clrsym/internal/msf"
	"github.com/skdltmxn/clrsym/metadata"
	"github.com/skdltmxn/clrsym/peimage"
)

const embeddedSource = "embedded"

// DebugInfo locates and parses the portable PDB of the image at path.
// Candidates are tried in order: the file named by the CodeView entry,
// then <image name>.pdb, both in the image's directory, then a portable
// PDB embedded in the image. It returns nil without error when the image
// is missing or unreadable, has no managed metadata, or no candidate
// matches. An image with corrupt PE headers is an error.
func (e *Extractor) DebugInfo(imagePath string) (*DebugInfo, error) {
	img, err := peimage.Open(imagePath, peimage.Options{})
	if errors.Is(err, peimage.ErrBadImage) {
		return nil, fmt.Errorf("symbols: %s: %w", imagePath, err)
	}
	if err != nil {
		e.logger.Debug().Err(err).Str("image", imagePath).Msg("image unavailable")
		return nil, nil
	}
	defer logging.CloseLogged(e.logger, img, "failed to close image")

	if !img.HasMetadata() {
		e.logger.Debug().Str("image", imagePath).Msg("image has no managed metadata")
		return nil, nil
	}

	entries, err := img.DebugDirectory()
	if err != nil {
		return nil, fmt.Errorf("symbols: %s: %w", imagePath, err)
	}

	var (
		cv       *peimage.CodeView
		wantID   *[20]byte
		embedded []peimage.DebugEntry
	)
	for _, entry := range entries {
		switch entry.Type {
		case peimage.DebugTypeCodeView:
			if cv != nil {
				continue
			}
			if cv, err = img.CodeView(entry); err != nil {
				e.logger.Debug().Err(err).Str("image", imagePath).Msg("skipping CodeView entry")
				cv = nil
				continue
			}
			if entry.IsPortableCodeView() {
				id := cv.PDBID()
				wantID = &id
			}
		case peimage.DebugTypeEmbeddedPortablePDB:
			embedded = append(embedded, entry)
		}
	}

	for _, path := range siblingCandidates(imagePath, cv) {
		info, err := e.loadFile(path, wantID)
		if err != nil || info != nil {
			return info, err
		}
	}

	if len(embedded) > 0 && e.embedded != nil {
		if info, ok := e.embedded.Get(imagePath); ok {
			e.logger.Debug().Str("image", imagePath).Msg("embedded debug info cache hit")
			return info, nil
		}
	}
	for _, entry := range embedded {
		data, err := img.EmbeddedPortablePDB(entry)
		if err != nil {
			e.logger.Debug().Err(err).Str("image", imagePath).Msg("skipping embedded debug info")
			continue
		}
		info, err := e.parse(embeddedSource, data, wantID)
		if err != nil {
			return nil, err
		}
		if info == nil {
			continue
		}
		if e.embedded != nil {
			e.embedded.Add(imagePath, info)
		}
		return info, nil
	}

	e.logger.Debug().Str("image", imagePath).Msg("no debug information found")
	return nil, nil
}

// siblingCandidates lists the PDB files to probe next to imagePath,
// without duplicates.
func siblingCandidates(imagePath string, cv *peimage.CodeView) []string {
	dir := filepath.Dir(imagePath)
	var paths []string
	if cv != nil && cv.Path != "" {
		// CodeView paths come from the build machine and may use either
		// separator.
		name := cv.Path[strings.LastIndexAny(cv.Path, `\/`)+1:]
		if name != "" {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	base := filepath.Base(imagePath)
	own := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".pdb")
	if len(paths) == 0 || !strings.EqualFold(paths[0], own) {
		paths = append(paths, own)
	}
	return paths
}

func (e *Extractor) loadFile(path string, wantID *[20]byte) (*DebugInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		e.logger.Debug().Err(err).Str("pdb", path).Msg("skipping debug info candidate")
		return nil, nil
	}
	return e.parse(path, data, wantID)
}

// parse returns nil without error when data is not the portable PDB
// wanted.
func (e *Extractor) parse(source string, data []byte, wantID *[20]byte) (*DebugInfo, error) {
	if msf.HasMagic(data) {
		sb, err := msf.Detect(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			e.logger.Debug().Err(err).Str("pdb", source).Msg("skipping damaged native PDB")
			return nil, nil
		}
		e.logger.Debug().
			Str("pdb", source).
			Uint32("block_size", sb.BlockSize).
			Uint32("blocks", sb.NumBlocks).
			Msg("skipping native PDB")
		return nil, nil
	}

	md, err := metadata.Parse(data)
	if errors.Is(err, metadata.ErrNotMetadata) {
		e.logger.Debug().Str("pdb", source).Msg("skipping file without metadata signature")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbols: %s: %w", source, err)
	}
	if !md.IsPortablePDB() {
		e.logger.Debug().Str("pdb", source).Msg("skipping metadata without #Pdb stream")
		return nil, nil
	}
	if wantID != nil && md.PDB().ID != *wantID {
		e.logger.Debug().Str("pdb", source).Msg("skipping PDB with mismatched id")
		return nil, nil
	}
	return &DebugInfo{Source: source, md: md}, nil
}
