package main

import (
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/replay/asm"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/cobra"
)

// renderHistogram writes an HTML bar chart of h to w.
func renderHistogram(w io.Writer, title string, h asm.Histogram) error {
	codes := h.Codes()
	names := make([]string, 0, len(codes))
	data := make([]opts.BarData, 0, len(codes))
	for _, c := range codes {
		names = append(names, c.String())
		data = append(data, opts.BarData{Value: h[c]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: "instructions by kind",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("count", data).SetSeriesOptions(
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)

	page := components.NewPage()
	page.AddCharts(bar)
	return page.Render(w)
}

func newStatsCmd() *cobra.Command {
	var (
		cf  captureFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "stats [stream]",
		Short: "Count instructions by kind, optionally as an HTML chart",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.load(args)
			if err != nil {
				return err
			}
			h := asm.CountInstructions(c.Instructions)
			for _, code := range h.Codes() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %8d\n", code, h[code])
			}
			if out == "" {
				return nil
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			return renderHistogram(f, c.Name, h)
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "write an HTML bar chart to this file")
	return cmd
}
