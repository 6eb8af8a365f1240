package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/crawler"
	"github.com/coff33ninja/vrm-auto-scraper/internal/sources"
)

// shownErrors is how many crawl errors the summary prints before collapsing the rest.
const shownErrors = 10

type crawlFlags struct {
	keywords       []string
	maxPerSource   int
	sourceNames    []string
	noSkipExisting bool
	force          bool
	retryFailed    bool
	concurrency    int
	noThumbnails   bool

	continuous bool
	batchSize  int
	interval   time.Duration
	schedule   string
	maxTotal   int
}

func newCrawlCommand(ctx *commandContext) *cobra.Command {
	var flags crawlFlags

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Search the enabled sources and download new avatars",
		Long: "Run one crawl batch across the enabled sources, or loop with --continuous " +
			"until interrupted or --max-total downloads were reached.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, ctx, flags)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&flags.keywords, "keywords", "k", nil, "Search keywords (defaults to crawl.keywords)")
	f.IntVarP(&flags.maxPerSource, "max", "n", 0, "Maximum candidates per source")
	f.StringSliceVarP(&flags.sourceNames, "sources", "s", nil, "Sources to crawl (defaults to sources.enabled)")
	f.BoolVar(&flags.noSkipExisting, "no-skip-existing", false, "Do not skip items that already have catalog entries (recorded attempts still skip unless --force)")
	f.BoolVar(&flags.force, "force", false, "Re-download every candidate, ignoring catalog entries and recorded attempts")
	f.BoolVar(&flags.retryFailed, "retry-failed", false, "Retry items whose previous attempt failed")
	f.IntVar(&flags.concurrency, "concurrency", 0, "Number of sources crawled in parallel")
	f.BoolVar(&flags.noThumbnails, "no-thumbnails", false, "Skip thumbnail downloads")
	f.BoolVar(&flags.continuous, "continuous", false, "Keep crawling in batches until interrupted")
	f.IntVar(&flags.batchSize, "batch", 0, "Candidates per source in each continuous batch")
	f.DurationVar(&flags.interval, "interval", 0, "Wait between continuous batches (e.g. 5m)")
	f.StringVar(&flags.schedule, "schedule", "", "Cron expression for continuous batches (overrides --interval)")
	f.IntVar(&flags.maxTotal, "max-total", 0, "Stop continuous mode after this many downloads")
	return cmd
}

func crawlOptions(cfg *config.Config, flags crawlFlags) crawler.Options {
	opts := crawler.OptionsFromConfig(cfg)
	if len(flags.keywords) > 0 {
		opts.Keywords = flags.keywords
	}
	if flags.maxPerSource > 0 {
		opts.MaxPerSource = flags.maxPerSource
	}
	if flags.noSkipExisting || flags.force {
		opts.SkipExisting = false
	}
	if flags.force {
		opts.SkipAttempted = false
	}
	if flags.retryFailed {
		opts.RetryFailed = true
	}
	if flags.concurrency > 0 {
		opts.ConcurrentSources = flags.concurrency
	}
	if flags.noThumbnails {
		opts.FetchThumbnails = false
	}
	return opts
}

func runCrawl(cmd *cobra.Command, ctx *commandContext, flags crawlFlags) error {
	cfg, store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}

	if len(flags.sourceNames) > 0 {
		names := make([]string, 0, len(flags.sourceNames))
		for _, name := range flags.sourceNames {
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" && !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
		cfg.Sources.Enabled = names
	}

	out := cmd.OutOrStdout()
	srcs, buildErrs := sources.Build(cfg, logger)
	for _, err := range buildErrs {
		fmt.Fprintf(out, "Source unavailable: %v\n", err)
	}
	if len(srcs) == 0 {
		return errors.New("no sources available; check sources.enabled and credentials")
	}

	c, err := crawler.New(cfg, store, srcs, newTriage(cfg, store, logger), logger)
	if err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := crawlOptions(cfg, flags)

	fmt.Fprintf(out, "Crawling %s\n", strings.Join(c.Sources(), ", "))

	if !flags.continuous {
		result, err := c.Crawl(signalCtx, opts)
		if err != nil {
			return err
		}
		printCrawlResult(out, result)
		return cancelledErr(signalCtx, out)
	}

	copts := crawler.ContinuousOptionsFromConfig(cfg)
	copts.Crawl = opts
	if flags.batchSize > 0 {
		copts.BatchSize = flags.batchSize
	}
	if flags.interval > 0 {
		copts.Interval = flags.interval
		copts.Schedule = ""
	}
	if flags.schedule != "" {
		copts.Schedule = flags.schedule
	}
	if flags.maxTotal > 0 {
		copts.MaxTotal = flags.maxTotal
	}

	totals, err := c.RunContinuous(signalCtx, copts, func(batch int, result crawler.Result, totals crawler.Totals) {
		fmt.Fprintf(out, "Batch %d: %s (total downloaded %d)\n", batch, result, totals.Downloaded)
		printErrors(out, result)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Batches", "Downloaded", "Skipped", "Failed"},
		[][]string{{strconv.Itoa(totals.Batches), strconv.Itoa(totals.Downloaded), strconv.Itoa(totals.Skipped), strconv.Itoa(totals.Failed)}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}

func printCrawlResult(out io.Writer, result crawler.Result) {
	names := make([]string, 0, len(result.BySource))
	for name := range result.BySource {
		names = append(names, name)
	}
	slices.Sort(names)

	rows := make([][]string, 0, len(names)+1)
	for _, name := range names {
		r := result.BySource[name]
		rows = append(rows, []string{name, strconv.Itoa(r.Downloaded), strconv.Itoa(r.Skipped), strconv.Itoa(r.Failed)})
	}
	rows = append(rows, []string{"total", strconv.Itoa(result.Downloaded), strconv.Itoa(result.Skipped), strconv.Itoa(result.Failed)})
	fmt.Fprintln(out, renderTable(
		[]string{"Source", "Downloaded", "Skipped", "Failed"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))
	fmt.Fprintf(out, "Finished in %s\n", result.Duration.Round(time.Millisecond))
	printErrors(out, result)
}

func printErrors(out io.Writer, result crawler.Result) {
	if len(result.Errors) == 0 {
		return
	}
	fmt.Fprintln(out, "Errors:")
	for _, msg := range result.Errors[:min(len(result.Errors), shownErrors)] {
		fmt.Fprintf(out, "  - %s\n", msg)
	}
	if more := len(result.Errors) - shownErrors + result.Dropped; more > 0 {
		fmt.Fprintf(out, "  ... and %d more\n", more)
	}
}

// cancelledErr reports an interrupted one-shot crawl after its partial summary was printed.
func cancelledErr(ctx context.Context, out io.Writer) error {
	if ctx.Err() != nil {
		fmt.Fprintln(out, "Crawl interrupted; completed items were kept.")
		return context.Canceled
	}
	return nil
}
