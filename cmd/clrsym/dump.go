package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/skdltmxn/clrsym/peimage"
	"github.com/skdltmxn/clrsym/symbols"
)

var (
	dumpFormat    string
	dumpSeqpoints bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump <image>",
	Short: "Dump all type and method definitions",
	Long: `Dump every type and method definition of a managed image with its
resolved name, in structured format.

Supported formats:
  - text: Human-readable text (default)
  - json: JSON format
  - yaml: YAML format`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpFormat, "format", "f", "text", "output format (text, json, yaml)")
	dumpCmd.Flags().BoolVarP(&dumpSeqpoints, "seqpoints", "s", false, "include sequence points of each method")
}

type ImageDump struct {
	File            string       `json:"file" yaml:"file"`
	MetadataVersion string       `json:"metadata_version" yaml:"metadata_version"`
	DebugInfo       string       `json:"debug_info,omitempty" yaml:"debug_info,omitempty"`
	Types           []TypeDump   `json:"types" yaml:"types"`
	Methods         []MethodDump `json:"methods" yaml:"methods"`
}

type TypeDump struct {
	Token string `json:"token" yaml:"token"`
	Name  string `json:"name" yaml:"name"`
}

type MethodDump struct {
	Token          string                  `json:"token" yaml:"token"`
	DeclaringType  string                  `json:"declaring_type" yaml:"declaring_type"`
	Name           string                  `json:"name" yaml:"name"`
	RVA            uint32                  `json:"rva" yaml:"rva"`
	SequencePoints []symbols.SequencePoint `json:"sequence_points,omitempty" yaml:"sequence_points,omitempty"`
}

func runDump(cmd *cobra.Command, args []string) error {
	imagePath := args[0]

	switch dumpFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown format: %s", dumpFormat)
	}

	r, err := symbols.OpenReader(imagePath, peimage.Options{Prefetch: true})
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer r.Close()

	dump, err := buildDump(r, imagePath)
	if err != nil {
		return err
	}

	switch dumpFormat {
	case "json":
		encoder := json.NewEncoder(output)
		encoder.SetIndent("", "  ")
		return encoder.Encode(dump)
	case "yaml":
		encoder := yaml.NewEncoder(output)
		encoder.SetIndent(2)
		if err := encoder.Encode(dump); err != nil {
			return err
		}
		return encoder.Close()
	}
	return dumpText(dump)
}

func buildDump(r *symbols.Reader, imagePath string) (*ImageDump, error) {
	md := r.Metadata()
	dump := &ImageDump{File: imagePath, MetadataVersion: md.Version()}

	for h := range md.TypeDefinitions() {
		name, err := r.ResolveName(h)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", h, err)
		}
		dump.Types = append(dump.Types, TypeDump{Token: fmt.Sprintf("0x%08X", h.Token()), Name: name})
	}

	var info *symbols.DebugInfo
	if dumpSeqpoints {
		var err error
		info, err = symbols.NewExtractor(symbols.WithLogger(logger)).DebugInfo(imagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load debug info: %w", err)
		}
		if info != nil {
			dump.DebugInfo = info.Source
		}
	}

	for h := range md.MethodDefinitions() {
		def, err := md.MethodDefinition(h)
		if err != nil {
			return nil, err
		}
		owner, err := r.ResolveName(h)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", h, err)
		}
		name, err := md.String(def.Name)
		if err != nil {
			return nil, err
		}
		m := MethodDump{
			Token:         fmt.Sprintf("0x%08X", h.Token()),
			DeclaringType: owner,
			Name:          name,
			RVA:           def.RVA,
		}
		if info != nil {
			if m.SequencePoints, err = info.SequencePoints(h.Token()); err != nil {
				return nil, fmt.Errorf("failed to read sequence points of %s: %w", h, err)
			}
		}
		dump.Methods = append(dump.Methods, m)
	}
	return dump, nil
}

func dumpText(dump *ImageDump) error {
	fmt.Fprintln(output, "=== Image ===")
	fmt.Fprintf(output, "File: %s\n", dump.File)
	fmt.Fprintf(output, "Metadata Version: %s\n", dump.MetadataVersion)
	if dump.DebugInfo != "" {
		fmt.Fprintf(output, "Debug Info: %s\n", dump.DebugInfo)
	}

	fmt.Fprintln(output)
	fmt.Fprintln(output, "=== Types ===")
	for _, t := range dump.Types {
		fmt.Fprintf(output, "%s %s\n", t.Token, t.Name)
	}

	fmt.Fprintln(output)
	fmt.Fprintln(output, "=== Methods ===")
	for _, m := range dump.Methods {
		fmt.Fprintf(output, "%s %s::%s rva=0x%X\n", m.Token, m.DeclaringType, m.Name, m.RVA)
		if len(m.SequencePoints) > 0 {
			if err := printPoints(output, m.SequencePoints, "    "); err != nil {
				return err
			}
		}
	}
	return nil
}
