package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/clrsym/peimage"
	"github.com/skdltmxn/clrsym/symbols"
)

var bodyHex bool

var bodyCmd = &cobra.Command{
	Use:   "body <image> <method-token>",
	Short: "Display the IL body of a method",
	Long: `Display the decoded IL body of a method definition: the header,
the exception regions and, with --hex, the raw code bytes.`,
	Args: cobra.ExactArgs(2),
	RunE: runBody,
}

func init() {
	bodyCmd.Flags().BoolVarP(&bodyHex, "hex", "x", false, "hex dump the code bytes")
}

func runBody(cmd *cobra.Command, args []string) error {
	imagePath := args[0]
	token, err := parseToken(args[1])
	if err != nil {
		return err
	}

	cache := symbols.NewCache(symbols.WithLogger(logger))
	defer cache.Close()

	body, err := symbols.NewLocator(cache).MethodBody(imagePath, token)
	if err != nil {
		return fmt.Errorf("failed to read method body: %w", err)
	}
	if body == nil {
		fmt.Fprintf(output, "Method 0x%08X has no body\n", token)
		return nil
	}
	printBody(body)
	return nil
}

func printBody(body *peimage.MethodBody) {
	fmt.Fprintf(output, "Max Stack: %d\n", body.MaxStack)
	fmt.Fprintf(output, "Code Size: %d\n", body.CodeSize)
	fmt.Fprintf(output, "Init Locals: %t\n", body.InitLocals)
	if body.LocalSignature.IsNil() {
		fmt.Fprintln(output, "Local Signature: (none)")
	} else {
		fmt.Fprintf(output, "Local Signature: %s\n", body.LocalSignature)
	}

	if len(body.ExceptionRegions) > 0 {
		fmt.Fprintf(output, "Exception Regions: %d\n", len(body.ExceptionRegions))
		for _, r := range body.ExceptionRegions {
			fmt.Fprintf(output, "  %-8s try IL_%04X-IL_%04X handler IL_%04X-IL_%04X",
				r.Kind, r.TryOffset, r.TryOffset+r.TryLength, r.HandlerOffset, r.HandlerOffset+r.HandlerLength)
			switch r.Kind {
			case peimage.ExceptionRegionCatch:
				fmt.Fprintf(output, " catch %s", r.CatchType)
			case peimage.ExceptionRegionFilter:
				fmt.Fprintf(output, " filter IL_%04X", r.FilterOffset)
			}
			fmt.Fprintln(output)
		}
	}

	if bodyHex {
		fmt.Fprintln(output, "Code:")
		fmt.Fprint(output, indent(hex.Dump(body.Code), "  "))
	}
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	var sb strings.Builder
	for _, line := range lines {
		if line != "" {
			sb.WriteString(prefix)
			sb.WriteString(line)
		}
	}
	return sb.String()
}
