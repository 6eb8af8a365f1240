package convert

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
	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
	"github.com/coff33ninja/vrm-auto-scraper/internal/triage"
)

// allFailedMessage is recorded on an attempt whose convertible files all failed.
const allFailedMessage = "All conversions failed"

// ScanResult groups the model files found under a directory.
type ScanResult struct {
	Dir         string
	VRMFiles    []string
	Convertible []string
	Skipped     []triage.SkippedFile
}

// PendingResult summarizes one ProcessPending run.
type PendingResult struct {
	Attempts  int
	Converted int
	Failed    int
	Skipped   int
	Errors    []string
}

// ProgressFunc observes ProcessPending after each attempt.
type ProgressFunc func(done, total int)

// Pipeline converts files left behind by crawls and catalogs the results.
type Pipeline struct {
	store     *catalog.Store
	triage    *triage.Triage
	converter Converter
	format    string
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline constructs a pipeline writing format with conv.
func NewPipeline(store *catalog.Store, tri *triage.Triage, conv Converter, format string, logger *slog.Logger) (*Pipeline, error) {
	if store == nil || tri == nil || conv == nil {
		return nil, errors.New("conversion pipeline requires store, triage, and converter")
	}
	normalized, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		store:     store,
		triage:    tri,
		converter: conv,
		format:    normalized,
		logger:    logging.NewComponentLogger(logger, "convert"),
		now:       time.Now,
	}, nil
}

// NewChainFromConfig returns FBX2glTF followed by Blender.
func NewChainFromConfig(cfg *config.Config, logger *slog.Logger) *Chain {
	return NewChain(
		NewFBX2glTF(cfg.Converter.FBX2glTFBinary, time.Duration(cfg.Converter.FBX2glTFTimeoutSeconds)*time.Second, logger),
		NewBlender(cfg.Converter.BlenderBinary, time.Duration(cfg.Converter.BlenderTimeoutSeconds)*time.Second, logger),
	)
}

// NewFromConfig builds a pipeline using the configured tools. An empty format
// uses the configured target format.
func NewFromConfig(cfg *config.Config, store *catalog.Store, tri *triage.Triage, format string, logger *slog.Logger) (*Pipeline, error) {
	if strings.TrimSpace(format) == "" {
		format = cfg.Converter.TargetFormat
	}
	return NewPipeline(store, tri, NewChainFromConfig(cfg, logger), format, logger)
}

// Format returns the target format.
func (p *Pipeline) Format() string { return p.format }

// ScanDirectory sorts the model files under dir. Convertible files that
// already have a converted sibling are left out.
func (p *Pipeline) ScanDirectory(ctx context.Context, dir, thumbnailPath string) (ScanResult, error) {
	files, err := p.triage.Files(dir)
	if err != nil {
		return ScanResult{}, fmt.Errorf("scan %s: %w", dir, err)
	}
	result := ScanResult{Dir: dir}
	skip := p.triage.SkipChain()
	for _, rel := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		ext := triage.Ext(full)
		if ext != ".vrm" && !triage.IsConvertible(ext) {
			continue
		}
		if decision := skip.Decide(ctx, full, thumbnailPath); decision.Skip {
			result.Skipped = append(result.Skipped, triage.SkippedFile{Path: rel, Reason: decision.Reason})
			continue
		}
		if ext == ".vrm" {
			result.VRMFiles = append(result.VRMFiles, full)
			continue
		}
		if p.alreadyConverted(full) {
			p.logger.Debug("converted output exists", logging.String("file", rel))
			continue
		}
		result.Convertible = append(result.Convertible, full)
	}
	return result, nil
}

func (p *Pipeline) alreadyConverted(path string) bool {
	if triage.Ext(path) == "."+p.format {
		return true
	}
	for _, format := range []string{"vrm", p.format} {
		if _, err := os.Stat(OutputPath(path, format)); err == nil {
			return true
		}
	}
	return false
}

// ConvertFile converts a single file and returns the output path.
func (p *Pipeline) ConvertFile(ctx context.Context, path string) (string, error) {
	if !triage.IsConvertible(triage.Ext(path)) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	return p.converter.Convert(ctx, path, p.format)
}

// ProcessPending converts files for every attempt still in the downloaded or
// extracted state. Failures are recorded per attempt; the returned error is
// reserved for problems reading the attempt list.
func (p *Pipeline) ProcessPending(ctx context.Context, progress ProgressFunc) (PendingResult, error) {
	attempts, err := p.store.ListAttempts(ctx, catalog.StatusDownloaded, catalog.StatusExtracted)
	if err != nil {
		return PendingResult{}, err
	}
	result := PendingResult{Attempts: len(attempts)}
	p.logger.Info("processing pending conversions",
		logging.Int("attempts", len(attempts)),
		logging.String("format", p.format),
		logging.String("converter", p.converter.Name()),
	)
	for i, attempt := range attempts {
		if ctx.Err() != nil {
			break
		}
		p.processAttempt(ctx, attempt, &result)
		if progress != nil {
			progress(i+1, len(attempts))
		}
	}
	p.logger.Info("pending conversions finished",
		logging.Int("converted", result.Converted),
		logging.Int("failed", result.Failed),
		logging.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (p *Pipeline) processAttempt(ctx context.Context, attempt *catalog.Attempt, result *PendingResult) {
	ctx = services.WithSource(ctx, attempt.Source)
	ctx = services.WithItemID(ctx, attempt.SourceItemID)
	ctx = services.WithStage(ctx, "convert")
	logger := logging.WithContext(ctx, p.logger)
	storeCtx := context.WithoutCancel(ctx)

	base, err := p.store.GetBySourceItem(ctx, attempt.Source, attempt.SourceItemID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			logger.Warn("catalog lookup failed", logging.Error(err))
		}
		base = &catalog.Entry{
			Source:       attempt.Source,
			SourceItemID: attempt.SourceItemID,
			DisplayName:  attempt.SourceItemID,
			SourceURL:    attempt.SourceURL,
		}
	}

	inputs, err := p.inputsFor(ctx, attempt, base.ThumbnailPath)
	if err != nil {
		logger.Warn("conversion inputs unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "convert_scan_failed"),
			logging.String(logging.FieldErrorHint, "re-crawl the item with --retry-failed"),
		)
	}
	if len(inputs) == 0 {
		result.Skipped++
		logger.Debug("nothing to convert", logging.String("raw_path", attempt.RawPath))
		return
	}

	produced := 0
	for _, input := range inputs {
		output, err := p.converter.Convert(ctx, input, p.format)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to convert %s: %v", filepath.Base(input), err))
			logging.WarnWithContext(logger, "conversion failed", "convert_failed",
				logging.String("input", filepath.Base(input)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that Blender or FBX2glTF is installed"),
				logging.String(logging.FieldImpact, "file left unconverted"),
			)
			continue
		}
		entry := p.conversionEntry(*base, attempt, input, output)
		added, err := p.store.Add(storeCtx, entry)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to catalog %s: %v", filepath.Base(output), err))
			continue
		}
		produced++
		if added.Added {
			result.Converted++
			logger.Info("converted file cataloged",
				logging.String("output", filepath.Base(output)),
				logging.Int64("entry_id", added.ID),
			)
		}
	}

	status, msg := catalog.StatusConverted, ""
	if produced == 0 {
		status, msg = catalog.StatusFailed, allFailedMessage
	}
	if err := p.store.AdvanceAttempt(storeCtx, attempt.Source, attempt.SourceItemID, status, msg); err != nil && !errors.Is(err, catalog.ErrStatusRegression) {
		logger.Warn("failed to advance attempt",
			logging.Error(err),
			logging.String(logging.FieldEventType, "attempt_update_failed"),
			logging.String(logging.FieldErrorHint, "check catalog database access"),
		)
	}
}

// inputsFor returns the files to convert for attempt: the scanned extraction
// directory for archives, the raw file itself for alternate formats.
func (p *Pipeline) inputsFor(ctx context.Context, attempt *catalog.Attempt, thumbnailPath string) ([]string, error) {
	if attempt.RawPath == "" {
		return nil, nil
	}
	ext := triage.Ext(attempt.RawPath)
	switch {
	case triage.IsArchive(ext):
		dir := p.triage.ExtractionDir(attempt.Source, attempt.SourceItemID)
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("extraction directory: %w", err)
		}
		scan, err := p.ScanDirectory(ctx, dir, thumbnailPath)
		if err != nil {
			return nil, err
		}
		for _, skipped := range scan.Skipped {
			p.logger.Debug("file skipped", logging.String("file", skipped.Path), logging.String("reason", skipped.Reason))
		}
		return scan.Convertible, nil
	case triage.IsConvertible(ext):
		if err := requireFile(attempt.RawPath); err != nil {
			return nil, err
		}
		if p.alreadyConverted(attempt.RawPath) {
			return nil, nil
		}
		return []string{attempt.RawPath}, nil
	default:
		return nil, nil
	}
}

func (p *Pipeline) conversionEntry(base catalog.Entry, attempt *catalog.Attempt, input, output string) catalog.Entry {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	name := base.DisplayName
	if stem != name {
		name = fmt.Sprintf("%s - %s", name, stem)
	}
	kind := catalog.KindVRM
	if p.format != "vrm" {
		kind = catalog.Kind(p.format)
	}
	notes := catalog.Notes{
		"converted_from": input,
		"converter":      p.converter.Name(),
	}
	if input != attempt.RawPath {
		notes["from_archive"] = attempt.RawPath
	}
	var size int64
	if info, err := os.Stat(output); err == nil {
		size = info.Size()
	}
	return catalog.Entry{
		Source:         attempt.Source,
		SourceItemID:   fmt.Sprintf("%s_%s", attempt.SourceItemID, stem),
		DisplayName:    name,
		Artist:         base.Artist,
		SourceURL:      base.SourceURL,
		License:        base.License,
		LicenseURL:     base.LicenseURL,
		ThumbnailPath:  base.ThumbnailPath,
		AcquiredAt:     p.now().UTC(),
		FilePath:       output,
		FileKind:       kind,
		OriginalFormat: strings.TrimPrefix(triage.Ext(input), "."),
		SizeBytes:      size,
		Notes:          notes,
	}
}
