package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/colorfulnotion/replay/asm"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"
)

// generate runs a JavaScript generator and returns the stream it emitted.
// The script sees emit(line) for one assembly line and word(n) for a raw
// opcode; both may be called any number of times, e.g. inside loops.
func generate(src string) ([]uint32, error) {
	var words []uint32
	vm := goja.New()
	vm.Set("emit", func(line string) error {
		w, err := asm.AssembleLine(line)
		if err != nil {
			return err
		}
		words = append(words, w)
		return nil
	})
	vm.Set("word", func(w int64) {
		words = append(words, uint32(w))
	})
	if _, err := vm.RunString(src); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return words, nil
}

func newScriptCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "script <gen.js>",
		Short: "Generate a stream from a JavaScript generator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			words, err := generate(string(src))
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), asm.DisassembleToString(words))
				return nil
			}
			if strings.HasSuffix(out, ".asm") {
				var sb strings.Builder
				for _, d := range asm.Disassemble(words) {
					sb.WriteString(d.Text + "\n")
				}
				return os.WriteFile(out, []byte(sb.String()), 0o644)
			}
			return os.WriteFile(out, asm.EncodeWords(words), 0o644)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the stream (.asm text, raw words otherwise)")
	return cmd
}
