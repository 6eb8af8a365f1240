package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/httpclient"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
	"github.com/coff33ninja/vrm-auto-scraper/internal/sources"
	"github.com/coff33ninja/vrm-auto-scraper/internal/triage"
)

// ErrCrawlInProgress is returned when another crawl holds the data directory lock.
var ErrCrawlInProgress = errors.New("another crawl is already running against this data directory")

// Crawler runs crawl batches over a fixed set of sources.
type Crawler struct {
	cfg      *config.Config
	store    *catalog.Store
	sources  []sources.Source
	triage   *triage.Triage
	logger   *slog.Logger
	lockPath string
	lock     *flock.Flock
	httpOpts []httpclient.Option
	now      func() time.Time
}

// New constructs a crawler. httpOpts are applied to the thumbnail clients.
func New(cfg *config.Config, store *catalog.Store, srcs []sources.Source, tri *triage.Triage, logger *slog.Logger, httpOpts ...httpclient.Option) (*Crawler, error) {
	if cfg == nil || store == nil || tri == nil {
		return nil, errors.New("crawler requires config, store, and triage")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "crawl.lock")
	return &Crawler{
		cfg:      cfg,
		store:    store,
		sources:  append([]sources.Source(nil), srcs...),
		triage:   tri,
		logger:   logging.NewComponentLogger(logger, "crawler"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		httpOpts: httpOpts,
		now:      time.Now,
	}, nil
}

// Sources returns the names of the sources this crawler enumerates.
func (c *Crawler) Sources() []string {
	return sources.Names(c.sources)
}

// Crawl runs one batch across every source. Per-item and per-source failures
// are recorded in the Result; the returned error is reserved for problems
// that prevent the batch from starting.
func (c *Crawler) Crawl(ctx context.Context, opts Options) (Result, error) {
	if err := os.MkdirAll(c.cfg.Paths.DataDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create data directory: %w", err)
	}
	locked, err := c.lock.TryLock()
	if err != nil {
		return Result{}, fmt.Errorf("acquire crawl lock: %w", err)
	}
	if !locked {
		return Result{}, fmt.Errorf("%w (lock %s)", ErrCrawlInProgress, c.lockPath)
	}
	defer func() {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn("failed to release crawl lock",
				logging.Error(err),
				logging.String(logging.FieldEventType, "crawl_lock_release_failed"),
				logging.String(logging.FieldErrorHint, "remove "+c.lockPath+" if no crawl is running"),
			)
		}
	}()

	return c.run(ctx, opts)
}

func (c *Crawler) run(ctx context.Context, opts Options) (Result, error) {
	if opts.MaxPerSource <= 0 {
		opts.MaxPerSource = c.cfg.Crawl.MaxPerSource
	}
	runID := uuid.NewString()
	ctx = services.WithRequestID(ctx, runID)
	logger := logging.WithContext(ctx, c.logger)

	start := c.now()
	logger.Info("crawl started",
		logging.Int("sources", len(c.sources)),
		logging.Int("max_per_source", opts.MaxPerSource),
		logging.Any("keywords", opts.Keywords),
	)

	perSource := make([]Result, len(c.sources))
	var g errgroup.Group
	g.SetLimit(max(opts.ConcurrentSources, 1))
	for i, src := range c.sources {
		g.Go(func() error {
			perSource[i] = c.crawlSource(ctx, src, opts)
			return nil
		})
	}
	_ = g.Wait()

	var result Result
	for i, src := range c.sources {
		result.merge(src.Name(), perSource[i])
	}
	result.Duration = c.now().Sub(start)

	logger.Info("crawl finished",
		logging.Int("downloaded", result.Downloaded),
		logging.Int("skipped", result.Skipped),
		logging.Int("failed", result.Failed),
		logging.Duration("elapsed", result.Duration),
		logging.Bool("cancelled", ctx.Err() != nil),
	)
	return result, nil
}

func (c *Crawler) crawlSource(ctx context.Context, src sources.Source, opts Options) Result {
	name := src.Name()
	ctx = services.WithSource(ctx, name)
	logger := logging.WithContext(ctx, c.logger)
	logger.Info("crawling source")

	var thumbs *httpclient.Client
	if opts.FetchThumbnails {
		thumbs = httpclient.NewFromConfig(name+"-thumbnails", c.cfg, c.logger, c.httpOpts...)
	}
	item := itemRunner{
		crawler: c,
		source:  src,
		destDir: filepath.Join(c.cfg.Paths.RawDir, name),
		thumbs:  thumbs,
		opts:    opts,
	}

	var result Result
	for cand, err := range src.Search(ctx, opts.Keywords, opts.MaxPerSource) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logging.ErrorWithContext(logger, "source enumeration failed", "source_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check credentials and platform status for "+name),
				logging.String(logging.FieldImpact, "remaining candidates from this source skipped"),
			)
			result.addError(fmt.Sprintf("Error crawling %s: %v", name, err))
			break
		}
		if ctx.Err() != nil {
			break
		}
		switch outcome, err := item.process(ctx, cand); outcome {
		case outcomeDownloaded:
			result.Downloaded++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
			result.addError(fmt.Sprintf("Failed to download %s: %v", cand.DisplayName, err))
		}
	}

	logger.Info("source finished",
		logging.Int("downloaded", result.Downloaded),
		logging.Int("skipped", result.Skipped),
		logging.Int("failed", result.Failed),
	)
	return result
}
