package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/skdltmxn/clrsym/internal/logging"
)

var (
	outputFile string
	logLevel   string
	output     io.Writer
	logger     = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "clrsym",
	Short: "Managed image symbol viewer",
	Long: `clrsym is a command-line tool for inspecting the metadata of
managed (.NET) PE images.

It resolves metadata tokens to qualified names, decodes method bodies
and local variable signatures, and maps IL offsets to source lines
through portable PDBs found next to the image or embedded in it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := logging.DefaultConfig()
		cfg.Level = logLevel
		logger = logging.New(cfg)

		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			output = f
		} else {
			output = os.Stdout
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if f, ok := output.(*os.File); ok && f != os.Stdout {
			logging.CloseLogged(logger, f, "failed to close output file")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write output to file instead of stdout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(bodyCmd)
	rootCmd.AddCommand(localsCmd)
	rootCmd.AddCommand(seqpointsCmd)
	rootCmd.AddCommand(dumpCmd)
}

// parseToken accepts decimal or 0x-prefixed metadata tokens.
func parseToken(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid token %q: %w", s, err)
	}
	return uint32(v), nil
}
