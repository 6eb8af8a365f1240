package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
	"github.com/coff33ninja/vrm-auto-scraper/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var online, strict bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check directories, external tools, and configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			colorize := isTerminal(out)
			var lines []string
			failed := 0

			lines = append(lines, renderSectionHeader("Configuration", colorize)...)
			lines = append(lines, renderStatusLine("Config file", statusInfo, ctx.configPath, colorize))
			lines = append(lines, renderStatusLine("Catalog", statusInfo, store.Path(), colorize))
			lines = append(lines, renderStatusLine("Enabled sources", statusInfo, strings.Join(cfg.Sources.Enabled, ", "), colorize))
			lines = append(lines, "")

			lines = append(lines, renderSectionHeader("Preflight", colorize)...)
			for _, result := range preflight.RunAll(cmd.Context(), cfg, preflight.Options{Online: online}) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
					failed++
				}
				lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			lines = append(lines, "")

			lines = append(lines, renderSectionHeader("External tools", colorize)...)
			for _, dep := range preflight.CheckSystemDeps(cfg) {
				kind, detail := statusOK, dep.Command
				if !dep.Available {
					kind, detail = statusWarn, dep.Detail
					if !dep.Optional {
						kind = statusError
						failed++
					}
				}
				lines = append(lines, renderStatusLine(dep.Name, kind, detail+" ("+dep.Description+")", colorize))
			}
			lines = append(lines, "")

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			lines = append(lines, renderSectionHeader("Catalog", colorize)...)
			lines = append(lines, renderStatusLine("Entries", statusInfo, strconv.Itoa(stats.Total), colorize))
			for _, status := range []catalog.AttemptStatus{catalog.StatusDownloaded, catalog.StatusExtracted, catalog.StatusFailed} {
				n := stats.Attempts[status]
				kind := statusInfo
				if status == catalog.StatusFailed && n > 0 {
					kind = statusWarn
				}
				lines = append(lines, renderStatusLine("Attempts "+string(status), kind, strconv.Itoa(n), colorize))
			}
			lines = append(lines, renderStatusLine("Classifier", statusInfo, yesNo(cfg.Classifier.Enabled), colorize))

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			if strict && failed > 0 {
				return errors.New(strconv.Itoa(failed) + " preflight checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "Also probe each enabled source's API endpoint")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any check fails")
	return cmd
}
