package main

import (
	"fmt"

	"github.com/colorfulnotion/replay/asm"
	"github.com/spf13/cobra"
)

func newDisasmCmd() *cobra.Command {
	var (
		cf   captureFlags
		tree bool
	)
	cmd := &cobra.Command{
		Use:   "disasm [stream]",
		Short: "Disassemble a stream file or a stored capture",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.load(args)
			if err != nil {
				return err
			}
			if tree {
				fmt.Fprint(cmd.OutOrStdout(), asm.Tree(c.Instructions).String())
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), asm.DisassembleToString(c.Instructions))
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().BoolVar(&tree, "tree", false, "group instructions by label")
	return cmd
}
