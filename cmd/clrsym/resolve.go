package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/clrsym/metadata"
	"github.com/skdltmxn/clrsym/symbols"
)

var errNoMetadata = errors.New("image not found or has no managed metadata")

var resolveCmd = &cobra.Command{
	Use:   "resolve <image> <token>",
	Short: "Resolve a metadata token to its qualified name",
	Long: `Resolve a metadata token to a dotted name by walking its scope chain.

Tokens may be decimal or hexadecimal:
  - Type reference: resolve App.dll 0x01000005
  - Member reference: resolve App.dll 0x0a000012
  - Method definition: resolve App.dll 0x06000001 (prints the declaring type)`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	imagePath := args[0]
	token, err := parseToken(args[1])
	if err != nil {
		return err
	}

	cache := symbols.NewCache(symbols.WithLogger(logger))
	defer cache.Close()

	r, err := cache.Reader(imagePath)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	if r == nil {
		return errNoMetadata
	}

	h := metadata.HandleFromToken(token)
	name, err := r.ResolveName(h)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", h, err)
	}
	fmt.Fprintf(output, "%s %s\n", h, name)
	return nil
}
