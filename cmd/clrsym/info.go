package main

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skdltmxn/clrsym/metadata"
	"github.com/skdltmxn/clrsym/peimage"
	"github.com/skdltmxn/clrsym/symbols"
)

var infoCmd = &cobra.Command{
	Use:   "info <image>",
	Short: "Display managed image information",
	Long: `Display general information about a managed image including the
runtime and metadata versions, table row counts, and the debug directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	imagePath := args[0]

	r, err := symbols.OpenReader(imagePath, peimage.Options{Prefetch: true})
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer r.Close()

	img := r.Image()
	md := r.Metadata()
	cli := img.CLIHeader()

	fmt.Fprintf(output, "Image: %s\n", imagePath)
	fmt.Fprintf(output, "Machine: 0x%04X\n", img.Machine())
	fmt.Fprintf(output, "Runtime Version: %d.%d\n", cli.MajorRuntimeVersion, cli.MinorRuntimeVersion)
	fmt.Fprintf(output, "Metadata Version: %s\n", md.Version())
	fmt.Fprintf(output, "Entry Point: 0x%08X\n", cli.EntryPointToken)
	if mod, err := md.Module(); err == nil {
		if name, err := md.String(mod.Name); err == nil {
			fmt.Fprintf(output, "Module: %s\n", name)
		}
	}

	fmt.Fprintln(output, "Tables:")
	for k := metadata.Kind(0); k < 0x40; k++ {
		n := md.RowCount(k)
		if n == 0 {
			continue
		}
		if md.IsSorted(k) {
			fmt.Fprintf(output, "  %-24s %d (sorted)\n", k, n)
		} else {
			fmt.Fprintf(output, "  %-24s %d\n", k, n)
		}
	}
	if n, err := md.NamespaceCount(); err == nil {
		fmt.Fprintf(output, "  %-24s %d\n", metadata.KindNamespace, n)
	}

	entries, err := img.DebugDirectory()
	if err != nil {
		return fmt.Errorf("failed to read debug directory: %w", err)
	}
	fmt.Fprintf(output, "Debug Entries: %d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(output, "  %-22s size=%d version=%d.%d\n", debugTypeName(e.Type), e.SizeOfData, e.MajorVersion, e.MinorVersion)
		if e.Type != peimage.DebugTypeCodeView {
			continue
		}
		cv, err := img.CodeView(e)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to decode CodeView entry")
			continue
		}
		fmt.Fprintf(output, "    PDB: %s\n", cv.Path)
		fmt.Fprintf(output, "    GUID: %s\n", formatGUID(cv.GUID))
		fmt.Fprintf(output, "    Age: %d\n", cv.Age)
		if e.IsPortableCodeView() {
			fmt.Fprintf(output, "    PDB ID: %s\n", formatPDBID(cv.PDBID()))
		}
	}

	return nil
}

func debugTypeName(t uint32) string {
	switch t {
	case peimage.DebugTypeCodeView:
		return "CodeView"
	case peimage.DebugTypeReproducible:
		return "Reproducible"
	case peimage.DebugTypeEmbeddedPortablePDB:
		return "EmbeddedPortablePDB"
	case peimage.DebugTypePDBChecksum:
		return "PDBChecksum"
	}
	return fmt.Sprintf("Type(%d)", t)
}

// formatGUID renders a GUID stored in its Windows byte order, where the
// first three fields are little-endian.
func formatGUID(g [16]byte) string {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:], binary.LittleEndian.Uint32(g[0:]))
	binary.BigEndian.PutUint16(u[4:], binary.LittleEndian.Uint16(g[4:]))
	binary.BigEndian.PutUint16(u[6:], binary.LittleEndian.Uint16(g[6:]))
	copy(u[8:], g[8:])
	return u.String()
}

func formatPDBID(id [20]byte) string {
	var g [16]byte
	copy(g[:], id[:16])
	return fmt.Sprintf("%s-%08X", formatGUID(g), binary.LittleEndian.Uint32(id[16:]))
}
