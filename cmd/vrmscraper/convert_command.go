package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/convert"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Convert alternate 3D formats into the target format",
		Long: "With a file argument, convert that one file. Without arguments, convert every " +
			"downloaded or extracted attempt that still holds convertible models.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			pipeline, err := convert.NewFromConfig(cfg, store, newTriage(cfg, store, logger), format, logger)
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				input, err := config.ExpandPath(args[0])
				if err != nil {
					return err
				}
				output, err := pipeline.ConvertFile(signalCtx, input)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Converted %s -> %s\n", input, output)
				return nil
			}

			var bar *progressbar.ProgressBar
			progress := func(done, total int) {
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetWriter(cmd.ErrOrStderr()),
						progressbar.OptionSetDescription("Converting"),
						progressbar.OptionShowCount(),
						progressbar.OptionSetVisibility(isTerminal(cmd.ErrOrStderr())),
						progressbar.OptionClearOnFinish(),
					)
				}
				_ = bar.Set(done)
			}
			res, err := pipeline.ProcessPending(signalCtx, progress)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Processed %d attempts to %s: %d converted, %d failed, %d skipped\n",
				res.Attempts, pipeline.Format(), res.Converted, res.Failed, res.Skipped)
			for _, msg := range res.Errors[:min(len(res.Errors), shownErrors)] {
				fmt.Fprintf(out, "  - %s\n", msg)
			}
			if more := len(res.Errors) - shownErrors; more > 0 {
				fmt.Fprintf(out, "  ... and %d more\n", more)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Target format: vrm or glb (defaults to converter.target_format)")
	return cmd
}
