package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
)

// ContinuousOptions controls RunContinuous.
type ContinuousOptions struct {
	Crawl     Options
	BatchSize int
	// Interval separates batches when Schedule is empty.
	Interval time.Duration
	// Schedule is a standard five-field cron expression.
	Schedule string
	// MaxTotal stops the loop once this many items were downloaded; zero means unlimited.
	MaxTotal int
}

// ContinuousOptionsFromConfig returns the looping defaults from cfg.
func ContinuousOptionsFromConfig(cfg *config.Config) ContinuousOptions {
	return ContinuousOptions{
		Crawl:     OptionsFromConfig(cfg),
		BatchSize: cfg.Continuous.BatchSize,
		Interval:  time.Duration(cfg.Continuous.IntervalSeconds) * time.Second,
		Schedule:  cfg.Continuous.Schedule,
		MaxTotal:  cfg.Continuous.MaxTotal,
	}
}

// Totals accumulates counts across continuous batches.
type Totals struct {
	Batches    int
	Downloaded int
	Skipped    int
	Failed     int
}

// BatchFunc observes each finished batch.
type BatchFunc func(batch int, result Result, totals Totals)

// RunContinuous repeats crawl batches until ctx is cancelled or MaxTotal
// downloads were reached. The crawl lock is held for the whole run.
func (c *Crawler) RunContinuous(ctx context.Context, opts ContinuousOptions, onBatch BatchFunc) (Totals, error) {
	schedule, err := opts.schedule()
	if err != nil {
		return Totals{}, err
	}
	locked, err := c.lock.TryLock()
	if err != nil {
		return Totals{}, fmt.Errorf("acquire crawl lock: %w", err)
	}
	if !locked {
		return Totals{}, fmt.Errorf("%w (lock %s)", ErrCrawlInProgress, c.lockPath)
	}
	defer func() { _ = c.lock.Unlock() }()

	logger := c.logger.With(logging.String(logging.FieldStage, "continuous"))
	logger.Info("continuous crawl started",
		logging.Int("batch_size", opts.BatchSize),
		logging.Duration("interval", opts.Interval),
		logging.String("schedule", opts.Schedule),
		logging.Int("max_total", opts.MaxTotal),
	)

	var totals Totals
	for {
		if ctx.Err() != nil {
			break
		}
		batchOpts := opts.Crawl
		batchOpts.MaxPerSource = opts.BatchSize
		if opts.MaxTotal > 0 {
			batchOpts.MaxPerSource = min(batchOpts.MaxPerSource, opts.MaxTotal-totals.Downloaded)
		}

		result, err := c.run(ctx, batchOpts)
		if err != nil {
			return totals, err
		}
		totals.Batches++
		totals.Downloaded += result.Downloaded
		totals.Skipped += result.Skipped
		totals.Failed += result.Failed
		logger.Info("batch finished",
			logging.Int("batch", totals.Batches),
			logging.String("summary", result.String()),
		)
		if onBatch != nil {
			onBatch(totals.Batches, result, totals)
		}

		if opts.MaxTotal > 0 && totals.Downloaded >= opts.MaxTotal {
			logger.Info("download ceiling reached", logging.Int("downloaded", totals.Downloaded))
			break
		}
		if ctx.Err() != nil {
			break
		}

		next := schedule.Next(c.now())
		logger.Info("waiting for next batch", logging.String("next_run", next.Format(time.RFC3339)))
		if err := sleepUntil(ctx, next); err != nil {
			break
		}
	}

	logger.Info("continuous crawl stopped",
		logging.Int("batches", totals.Batches),
		logging.Int("downloaded", totals.Downloaded),
		logging.Int("failed", totals.Failed),
	)
	return totals, nil
}

func (o ContinuousOptions) schedule() (cron.Schedule, error) {
	if o.BatchSize <= 0 {
		return nil, services.Wrap(services.ErrValidation, "continuous", "options", "batch size must be positive", nil)
	}
	if o.Schedule != "" {
		schedule, err := cron.ParseStandard(o.Schedule)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "continuous", "schedule", o.Schedule, err)
		}
		return schedule, nil
	}
	if o.Interval <= 0 {
		return nil, services.Wrap(services.ErrValidation, "continuous", "options", "interval must be positive", nil)
	}
	return cron.Every(o.Interval), nil
}

func sleepUntil(ctx context.Context, when time.Time) error {
	timer := time.NewTimer(time.Until(when))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
