package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/clrsym/symbols"
)

var seqpointsCmd = &cobra.Command{
	Use:   "seqpoints <image> <method-token>",
	Short: "List the sequence points of a method",
	Long: `List the IL offset to source line mapping of a method.

The program database is looked up next to the image, first under the
name recorded in the image, then as <image>.pdb, and finally in the
image itself. The token may be a method definition token, a method
debug information token, or a row number.`,
	Args: cobra.ExactArgs(2),
	RunE: runSeqpoints,
}

func runSeqpoints(cmd *cobra.Command, args []string) error {
	token, err := parseToken(args[1])
	if err != nil {
		return err
	}

	points, err := symbols.NewExtractor(symbols.WithLogger(logger)).SequencePoints(args[0], token)
	if err != nil {
		return fmt.Errorf("failed to read sequence points: %w", err)
	}
	if len(points) == 0 {
		fmt.Fprintln(output, "No sequence points")
		return nil
	}
	return printPoints(output, points, "")
}

func printPoints(out io.Writer, points []symbols.SequencePoint, prefix string) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "%sOFFSET\tSTART\tEND\tDOCUMENT\n", prefix)
	for _, p := range points {
		if p.IsHidden() {
			fmt.Fprintf(w, "%sIL_%04X\thidden\t\t%s\n", prefix, p.Offset, p.Document)
			continue
		}
		fmt.Fprintf(w, "%sIL_%04X\t%d:%d\t%d:%d\t%s\n", prefix, p.Offset, p.LineStart, p.ColStart, p.LineEnd, p.ColEnd, p.Document)
	}
	return w.Flush()
}
