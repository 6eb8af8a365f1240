package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/report"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "report <file.md>",
		Short: "Write a Markdown report of the catalog (use - for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			now := time.Now()
			if args[0] == "-" {
				return report.Write(cmd.Context(), store, cmd.OutOrStdout(), now)
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			r, err := report.WriteFile(cmd.Context(), store, path, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote report for %s entries (%s) to %s\n",
				humanize.Comma(int64(r.Stats.Total)), humanize.Bytes(uint64(max(r.Stats.TotalBytes, 0))), path)
			return nil
		},
	}
}
