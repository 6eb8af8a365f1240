package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
	"github.com/coff33ninja/vrm-auto-scraper/internal/httpclient"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
	"github.com/coff33ninja/vrm-auto-scraper/internal/sources"
	"github.com/coff33ninja/vrm-auto-scraper/internal/triage"
)

type outcome int

const (
	outcomeDownloaded outcome = iota
	outcomeSkipped
	outcomeFailed
)

const cancelledMessage = "cancelled"

// itemRunner processes candidates from one source.
type itemRunner struct {
	crawler *Crawler
	source  sources.Source
	destDir string
	thumbs  *httpclient.Client
	opts    Options
}

func (r itemRunner) process(ctx context.Context, cand sources.Candidate) (outcome, error) {
	c := r.crawler
	name := r.source.Name()
	ctx = services.WithItemID(ctx, cand.ItemID)
	logger := logging.WithContext(ctx, c.logger)
	// Bookkeeping writes must land even when the crawl is being cancelled.
	storeCtx := context.WithoutCancel(ctx)

	skip, reason, err := r.shouldSkip(ctx, name, cand.ItemID)
	if err != nil {
		return outcomeFailed, err
	}
	if skip {
		logger.Debug("candidate skipped", logging.String("reason", reason))
		return outcomeSkipped, nil
	}

	if err := c.store.RecordAttempt(storeCtx, name, cand.ItemID, cand.SourceURL, ""); err != nil {
		return outcomeFailed, err
	}

	ctx = services.WithStage(ctx, "download")
	rawPath, err := r.source.Download(ctx, cand, r.destDir)
	if err != nil {
		r.fail(ctx, logger, name, cand.ItemID, err)
		return outcomeFailed, err
	}
	if err := c.store.SetAttemptRawPath(storeCtx, name, cand.ItemID, rawPath); err != nil {
		logger.Warn("failed to record raw path",
			logging.Error(err),
			logging.String(logging.FieldEventType, "attempt_update_failed"),
			logging.String(logging.FieldErrorHint, "check catalog database access"),
		)
	}

	var thumbPath string
	if r.thumbs != nil && cand.ThumbnailURL != "" {
		thumbPath = fetchThumbnail(ctx, logger, r.thumbs, filepath.Join(c.cfg.Paths.ThumbnailsDir, name), cand)
	}

	ctx = services.WithStage(ctx, "triage")
	result, err := c.triage.Process(ctx, rawPath, name, cand.ItemID)
	if err == nil && result.Failed() {
		err = fmt.Errorf("%w: %s", services.ErrExtraction, result.ExtractionError)
	}
	if err != nil {
		r.fail(ctx, logger, name, cand.ItemID, err)
		return outcomeFailed, err
	}

	entries := buildEntries(name, cand, rawPath, thumbPath, result, c.now())
	for _, entry := range entries {
		added, err := c.store.Add(storeCtx, entry)
		if err != nil {
			r.fail(ctx, logger, name, cand.ItemID, err)
			return outcomeFailed, err
		}
		if !added.Added {
			logger.Debug("entry already cataloged",
				logging.String("entry_item_id", entry.SourceItemID),
				logging.Int64("entry_id", added.ID),
			)
		}
	}

	status := attemptStatusFor(result)
	if err := c.store.AdvanceAttempt(storeCtx, name, cand.ItemID, status, ""); err != nil && !errors.Is(err, catalog.ErrStatusRegression) {
		logger.Warn("failed to advance attempt",
			logging.Error(err),
			logging.String(logging.FieldEventType, "attempt_update_failed"),
			logging.String(logging.FieldErrorHint, "check catalog database access"),
		)
	}

	logger.Info("candidate acquired",
		logging.String("name", cand.DisplayName),
		logging.String("kind", string(result.Kind)),
		logging.Int("entries", len(entries)),
		logging.Int64("size_bytes", result.SizeBytes),
	)
	return outcomeDownloaded, nil
}

// shouldSkip applies the catalog and attempt dedup toggles.
func (r itemRunner) shouldSkip(ctx context.Context, source, itemID string) (bool, string, error) {
	store := r.crawler.store
	if r.opts.SkipExisting {
		exists, err := store.Exists(ctx, source, itemID)
		if err != nil {
			return false, "", err
		}
		if exists {
			return true, "already cataloged", nil
		}
	}
	if !r.opts.SkipAttempted {
		return false, "", nil
	}
	attempt, err := store.GetAttempt(ctx, source, itemID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return false, "", nil
	case err != nil:
		return false, "", err
	case attempt.Status == catalog.StatusFailed && r.opts.RetryFailed:
		return false, "", nil
	default:
		return true, "already attempted (" + string(attempt.Status) + ")", nil
	}
}

// fail marks the attempt failed. An error caused by cancellation is recorded
// as "cancelled".
func (r itemRunner) fail(ctx context.Context, logger *slog.Logger, source, itemID string, cause error) {
	storeCtx := context.WithoutCancel(ctx)
	msg := cause.Error()
	if ctx.Err() != nil {
		msg = cancelledMessage
	}
	logging.WarnWithContext(logger, "candidate failed", "item_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "rerun with --retry-failed to try again"),
		logging.String(logging.FieldImpact, "item not cataloged"),
	)
	if err := r.crawler.store.AdvanceAttempt(storeCtx, source, itemID, catalog.StatusFailed, msg); err != nil {
		logger.Warn("failed to mark attempt failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "attempt_update_failed"),
			logging.String(logging.FieldErrorHint, "check catalog database access"),
		)
	}
}

// attemptStatusFor maps a triage result onto the attempt lifecycle.
func attemptStatusFor(result triage.Result) catalog.AttemptStatus {
	switch result.Kind {
	case catalog.KindVRM:
		return catalog.StatusConverted
	case catalog.KindArchive:
		return catalog.StatusExtracted
	default:
		return catalog.StatusDownloaded
	}
}

// buildEntries turns a triage result into the primary entry plus one entry
// per additional VRM.
func buildEntries(source string, cand sources.Candidate, rawPath, thumbPath string, result triage.Result, now time.Time) []catalog.Entry {
	acquired := now.UTC()
	primary := catalog.Entry{
		Source:         source,
		SourceItemID:   cand.ItemID,
		DisplayName:    cand.DisplayName,
		Artist:         cand.Artist,
		SourceURL:      cand.SourceURL,
		License:        cand.License,
		LicenseURL:     cand.LicenseURL,
		ThumbnailPath:  thumbPath,
		AcquiredAt:     acquired,
		FilePath:       result.PrimaryPath,
		FileKind:       result.Kind,
		OriginalFormat: originalFormat(rawPath, result),
		SizeBytes:      result.SizeBytes,
		Notes:          result.Notes,
	}
	entries := []catalog.Entry{primary}
	for i, extra := range result.AdditionalArtifacts {
		entries = append(entries, catalog.Entry{
			Source:        source,
			SourceItemID:  fmt.Sprintf("%s_extra_%d", cand.ItemID, i+1),
			DisplayName:   fmt.Sprintf("%s (%s)", cand.DisplayName, filepath.Base(extra)),
			Artist:        cand.Artist,
			SourceURL:     cand.SourceURL,
			License:       cand.License,
			LicenseURL:    cand.LicenseURL,
			ThumbnailPath: thumbPath,
			AcquiredAt:    acquired,
			FilePath:      extra,
			FileKind:      catalog.KindVRM,
			SizeBytes:     fileSize(extra),
			Notes:         catalog.Notes{"from_archive": rawPath},
		})
	}
	return entries
}

func originalFormat(rawPath string, result triage.Result) string {
	if result.Kind == catalog.KindNeedsConversion || result.PrimaryPath != rawPath {
		return strings.TrimPrefix(triage.Ext(rawPath), ".")
	}
	return ""
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
