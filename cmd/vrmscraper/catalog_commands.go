package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:     "catalog",
		Aliases: []string{"cat"},
		Short:   "Inspect and maintain the avatar catalog",
	}

	catalogCmd.AddCommand(newCatalogListCommand(ctx))
	catalogCmd.AddCommand(newCatalogShowCommand(ctx))
	catalogCmd.AddCommand(newCatalogStatsCommand(ctx))
	catalogCmd.AddCommand(newCatalogExportCommand(ctx))
	catalogCmd.AddCommand(newCatalogImportCommand(ctx))
	catalogCmd.AddCommand(newCatalogDeleteCommand(ctx))
	catalogCmd.AddCommand(newCatalogClearCommand(ctx))
	return catalogCmd
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var source, kind string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			filter := catalog.ListFilter{
				Source: strings.ToLower(strings.TrimSpace(source)),
				Kind:   catalog.Kind(strings.ToLower(strings.TrimSpace(kind))),
				Limit:  limit,
			}
			entries, err := store.ListAll(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				if entries == nil {
					entries = []*catalog.Entry{}
				}
				return writeJSON(cmd, entries)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "Catalog is empty")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					e.Source,
					e.DisplayName,
					orDash(e.Artist),
					string(e.FileKind),
					humanize.Bytes(uint64(max(e.SizeBytes, 0))),
					humanize.RelTime(e.AcquiredAt, now, "ago", "from now"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Source", "Name", "Artist", "Kind", "Size", "Acquired"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Only list entries from this source")
	cmd.Flags().StringVar(&kind, "kind", "", "Only list entries of this kind (vrm, archive, needs_conversion, unknown)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCatalogShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show every field of one catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			_, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Get(cmd.Context(), id)
			if errors.Is(err, catalog.ErrNotFound) {
				return fmt.Errorf("catalog entry %d not found", id)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, entry)
			}

			notes := "-"
			if len(entry.Notes) > 0 {
				data, err := json.MarshalIndent(entry.Notes, "", "  ")
				if err != nil {
					return fmt.Errorf("encode notes: %w", err)
				}
				notes = string(data)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderProperties([][2]string{
				{"ID", strconv.FormatInt(entry.ID, 10)},
				{"Source", entry.Source},
				{"Item", entry.SourceItemID},
				{"Name", entry.DisplayName},
				{"Artist", orDash(entry.Artist)},
				{"URL", orDash(entry.SourceURL)},
				{"License", orDash(entry.License)},
				{"License URL", orDash(entry.LicenseURL)},
				{"Kind", string(entry.FileKind)},
				{"Original format", orDash(entry.OriginalFormat)},
				{"File", entry.FilePath},
				{"Size", humanize.Bytes(uint64(max(entry.SizeBytes, 0)))},
				{"Thumbnail", orDash(entry.ThumbnailPath)},
				{"Acquired", entry.AcquiredAt.Local().Format(time.RFC3339)},
				{"Notes", notes},
			}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCatalogStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the catalog and attempt tracker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, stats)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Entries: %s (%s)\n", humanize.Comma(int64(stats.Total)), humanize.Bytes(uint64(max(stats.TotalBytes, 0))))
			fmt.Fprintln(out, countTable("Source", stats.BySource))

			kinds := make(map[string]int, len(stats.ByKind))
			for kind, n := range stats.ByKind {
				kinds[string(kind)] = n
			}
			fmt.Fprintln(out, countTable("Kind", kinds))

			rows := make([][]string, 0, len(stats.Attempts))
			for _, status := range catalog.AllStatuses() {
				rows = append(rows, []string{string(status), strconv.Itoa(stats.Attempts[status])})
			}
			fmt.Fprintln(out, renderTable([]string{"Attempt status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func countTable(label string, counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, strconv.Itoa(counts[k])})
	}
	return renderTable([]string{label, "Entries"}, rows, []columnAlignment{alignLeft, alignRight})
}

func newCatalogExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the catalog as a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if args[0] == "-" {
				_, err := store.Export(cmd.Context(), cmd.OutOrStdout())
				return err
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			n, err := store.ExportAll(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", n, path)
			return nil
		},
	}
}

func newCatalogImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Add entries from a JSON export, skipping ones already present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat import file: %w", err)
			}

			out := cmd.OutOrStdout()
			bar := progressbar.NewOptions64(info.Size(),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("Reading"),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetVisibility(isTerminal(cmd.ErrOrStderr())),
				progressbar.OptionClearOnFinish(),
			)
			reader := progressbar.NewReader(f, bar)
			n, err := store.Import(cmd.Context(), &reader)
			_ = bar.Finish()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Imported %d new entries from %s\n", n, path)
			return nil
		},
	}
}

func newCatalogDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove one catalog entry (files on disk are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			_, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("catalog entry %d not found", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted entry %d\n", id)
			return nil
		},
	}
}

func newCatalogClearCommand(ctx *commandContext) *cobra.Command {
	var yes, attempts bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every catalog entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the catalog without --yes")
			}
			_, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			n, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d entries\n", n)
			if attempts {
				a, err := store.ClearAttempts(cmd.Context())
				if err != nil {
					return err
				}
				c, err := store.ClearClassifications(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d attempts and %d cached classifications\n", a, c)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm removal")
	cmd.Flags().BoolVar(&attempts, "attempts", false, "Also forget download attempts and cached classifications")
	return cmd
}

func parseEntryID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid entry id %q", arg)
	}
	return id, nil
}
