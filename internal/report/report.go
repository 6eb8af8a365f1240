// Package report renders the catalog as a Markdown document.
package report

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
	"github.com/coff33ninja/vrm-auto-scraper/internal/fileutil"
	"github.com/coff33ninja/vrm-auto-scraper/internal/textutil"
)

// Report is a snapshot of the catalog and attempt tracker.
type Report struct {
	GeneratedAt time.Time
	Stats       catalog.Stats
	Entries     []*catalog.Entry
	Failed      []*catalog.Attempt
}

// Collect reads everything a report needs from store.
func Collect(ctx context.Context, store *catalog.Store, now time.Time) (*Report, error) {
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := store.ListAll(ctx, catalog.ListFilter{})
	if err != nil {
		return nil, err
	}
	failed, err := store.ListAttempts(ctx, catalog.StatusFailed)
	if err != nil {
		return nil, err
	}
	return &Report{GeneratedAt: now, Stats: stats, Entries: entries, Failed: failed}, nil
}

// WriteFile renders the report for store into path.
func WriteFile(ctx context.Context, store *catalog.Store, path string, now time.Time) (*Report, error) {
	r, err := Collect(ctx, store, now)
	if err != nil {
		return nil, err
	}
	if err := fileutil.WriteAtomic(path, 0o644, r.WriteMarkdown); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return r, nil
}

// WriteMarkdown renders the report to w.
func (r *Report) WriteMarkdown(w io.Writer) error {
	md := markdown.NewMarkdown(w)
	md.H1("VRM Catalog Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", r.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST")},
			{"Entries", strconv.Itoa(r.Stats.Total)},
			{"Total size", humanize.Bytes(uint64(max(r.Stats.TotalBytes, 0)))},
			{"Sources", strconv.Itoa(len(r.Stats.BySource))},
			{"Failed attempts", strconv.Itoa(len(r.Failed))},
		},
	})
	md.PlainText("")

	r.writeBreakdown(md)
	r.writeEntries(md)
	r.writeFailures(md)
	return md.Build()
}

func (r *Report) writeBreakdown(md *markdown.Markdown) {
	md.H2("Sources")
	md.PlainText("")
	if r.Stats.Total == 0 {
		md.Note("The catalog is empty. Run a crawl to populate it.")
		md.PlainText("")
		return
	}

	sources := sortedKeys(r.Stats.BySource)
	rows := make([][]string, 0, len(sources))
	chart := piechart.NewPieChart(io.Discard, piechart.WithTitle("Entries by source"), piechart.WithShowData(true))
	for _, source := range sources {
		count := r.Stats.BySource[source]
		rows = append(rows, []string{textutil.TitleCase(source), strconv.Itoa(count)})
		chart.LabelAndIntValue(source, uint64(count))
	}
	md.Table(markdown.TableSet{Header: []string{"Source", "Entries"}, Rows: rows})
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")

	kinds := make(map[string]int, len(r.Stats.ByKind))
	for kind, count := range r.Stats.ByKind {
		kinds[string(kind)] = count
	}
	rows = make([][]string, 0, len(kinds))
	for _, kind := range sortedKeys(kinds) {
		rows = append(rows, []string{textutil.TitleCase(kind), strconv.Itoa(kinds[kind])})
	}
	md.H2("Kinds")
	md.PlainText("")
	md.Table(markdown.TableSet{Header: []string{"Kind", "Entries"}, Rows: rows})
	md.PlainText("")
	if pending := kinds[string(catalog.KindNeedsConversion)]; pending > 0 {
		md.Importantf("%d entries still need conversion. Run `vrmscraper convert` to process them.", pending)
		md.PlainText("")
	}
}

func (r *Report) writeEntries(md *markdown.Markdown) {
	if len(r.Entries) == 0 {
		return
	}
	collator := collate.New(language.Und, collate.IgnoreCase, collate.IgnoreDiacritics)
	bySource := map[string][]*catalog.Entry{}
	for _, entry := range r.Entries {
		bySource[entry.Source] = append(bySource[entry.Source], entry)
	}

	md.H2("Entries")
	md.PlainText("")
	for _, source := range sortedKeys(bySource) {
		entries := bySource[source]
		slices.SortStableFunc(entries, func(a, b *catalog.Entry) int {
			return collator.CompareString(a.DisplayName, b.DisplayName)
		})
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				cell(linked(e.DisplayName, e.SourceURL)),
				cell(orDash(e.Artist)),
				cell(orDash(e.License)),
				textutil.TitleCase(string(e.FileKind)),
				humanize.Bytes(uint64(max(e.SizeBytes, 0))),
				e.AcquiredAt.UTC().Format("2006-01-02"),
			})
		}
		md.H3(fmt.Sprintf("%s (%d)", textutil.TitleCase(source), len(entries)))
		md.PlainText("")
		md.Table(markdown.TableSet{
			Header: []string{"Name", "Artist", "License", "Kind", "Size", "Acquired"},
			Rows:   rows,
		})
		md.PlainText("")
	}
}

func (r *Report) writeFailures(md *markdown.Markdown) {
	md.H2("Failed Attempts")
	md.PlainText("")
	if len(r.Failed) == 0 {
		md.Tip("No failed attempts.")
		md.PlainText("")
		return
	}
	md.Warningf("%d attempts failed. Rerun the crawl with `--retry-failed` to try them again.", len(r.Failed))
	md.PlainText("")
	rows := make([][]string, 0, len(r.Failed))
	for _, a := range r.Failed {
		rows = append(rows, []string{
			textutil.TitleCase(a.Source),
			cell("`" + a.SourceItemID + "`"),
			cell(truncate(orDash(a.Error), 80)),
			a.UpdatedAt.UTC().Format("2006-01-02 15:04"),
		})
	}
	md.Table(markdown.TableSet{Header: []string{"Source", "Item", "Error", "Updated"}, Rows: rows})
	md.PlainText("")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func linked(name, url string) string {
	if url == "" {
		return name
	}
	return "[" + strings.NewReplacer("[", "(", "]", ")").Replace(name) + "](" + url + ")"
}

func cell(value string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ", "\r", "").Replace(value)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}

// Write renders the report for store to w.
func Write(ctx context.Context, store *catalog.Store, w io.Writer, now time.Time) error {
	r, err := Collect(ctx, store, now)
	if err != nil {
		return err
	}
	return r.WriteMarkdown(w)
}
