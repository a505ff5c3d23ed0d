package main

import (
	"fmt"

	"github.com/colorfulnotion/replay/trace"
	"github.com/spf13/cobra"
)

func newDiffCmd() *cobra.Command {
	var color bool
	cmd := &cobra.Command{
		Use:   "diff <left.jsonl> <right.jsonl>",
		Short: "Report the first step at which two run traces differ",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			left, err := trace.ReadJSONLFile(args[0])
			if err != nil {
				return err
			}
			right, err := trace.ReadJSONLFile(args[1])
			if err != nil {
				return err
			}
			d, err := trace.Diff(left, right, color)
			if err != nil {
				return err
			}
			if d == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "traces match (%d steps)\n", len(left))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), d)
			return fmt.Errorf("traces diverge at step %d", d.Index)
		},
	}
	cmd.Flags().BoolVar(&color, "color", false, "color the report")
	return cmd
}
