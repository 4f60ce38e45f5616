package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/clrsym/symbols"
)

var localsCmd = &cobra.Command{
	Use:   "locals <image> <method-token>",
	Short: "List the local variable types of a method",
	Args:  cobra.ExactArgs(2),
	RunE:  runLocals,
}

// method names a method by image path and token.
type method struct {
	path  string
	token uint32
}

func (m method) ImagePath() string     { return m.path }
func (m method) MetadataToken() uint32 { return m.token }

func runLocals(cmd *cobra.Command, args []string) error {
	token, err := parseToken(args[1])
	if err != nil {
		return err
	}

	cache := symbols.NewCache(symbols.WithLogger(logger))
	defer cache.Close()

	types, err := symbols.NewLocator(cache).LocalVariableTypes(method{path: args[0], token: token})
	if err != nil {
		return fmt.Errorf("failed to decode locals: %w", err)
	}
	if len(types) == 0 {
		fmt.Fprintln(output, "No local variables")
		return nil
	}
	for i, t := range types {
		fmt.Fprintf(output, "V_%d: %s\n", i, t)
	}
	return nil
}
