package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
	"github.com/coff33ninja/vrm-auto-scraper/internal/classify"
	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/textutil"
)

// Result is the classification of one downloaded file.
type Result struct {
	PrimaryPath string
	Kind        catalog.Kind
	SizeBytes   int64
	Notes       catalog.Notes
	// AdditionalArtifacts lists extra VRM files found beside the primary one.
	AdditionalArtifacts []string
	// ExtractionError is set when an archive could not be unpacked.
	ExtractionError string
}

// Failed reports whether triage could not extract the payload.
func (r Result) Failed() bool {
	return r.ExtractionError != ""
}

// SkippedFile records an archive member the skip chain rejected.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Options configures a Triage.
type Options struct {
	ExtractedDir     string
	MaxWalkDepth     int
	TextSidecarLimit int
	Extractor        *Extractor
	Skip             *SkipChain
	Logger           *slog.Logger
}

// Triage classifies downloaded payloads.
type Triage struct {
	extractedDir string
	maxDepth     int
	textLimit    int
	extractor    *Extractor
	skip         *SkipChain
	logger       *slog.Logger
}

// New constructs a Triage from explicit options.
func New(opts Options) *Triage {
	t := &Triage{
		extractedDir: opts.ExtractedDir,
		maxDepth:     opts.MaxWalkDepth,
		textLimit:    opts.TextSidecarLimit,
		extractor:    opts.Extractor,
		skip:         opts.Skip,
		logger:       logging.NewComponentLogger(opts.Logger, "triage"),
	}
	if t.maxDepth <= 0 {
		t.maxDepth = 16
	}
	if t.textLimit <= 0 {
		t.textLimit = 2000
	}
	if t.extractor == nil {
		t.extractor = NewExtractor("", 0, opts.Logger)
	}
	if t.skip == nil {
		t.skip = NewSkipChain(nil, nil, nil, opts.Logger)
	}
	return t
}

// NewFromConfig wires a Triage from configuration. classifier may be nil.
func NewFromConfig(cfg *config.Config, classifier classify.Classifier, logger *slog.Logger) *Triage {
	return New(Options{
		ExtractedDir:     cfg.Paths.ExtractedDir,
		MaxWalkDepth:     cfg.Triage.MaxWalkDepth,
		TextSidecarLimit: cfg.Triage.TextSidecarLimit,
		Extractor:        NewExtractor(cfg.Triage.SevenZipBinary, cfg.ExtractTimeout(), logger),
		Skip:             NewSkipChain(cfg.Triage.SkipExtensions, cfg.Triage.AccessoryKeywords, classifier, logger),
		Logger:           logger,
	})
}

// SkipChain exposes the configured skip chain.
func (t *Triage) SkipChain() *SkipChain {
	return t.skip
}

// ExtractionDir returns the namespaced extraction directory for an item.
func (t *Triage) ExtractionDir(source, itemID string) string {
	return filepath.Join(t.extractedDir, textutil.PathSegment(source), textutil.PathSegment(itemID))
}

// Files lists regular files under root as sorted slash-separated relative
// paths, bounded by the configured walk depth.
func (t *Triage) Files(root string) ([]string, error) {
	return walkFiles(root, t.maxDepth)
}

// Process classifies filePath downloaded for (source, itemID). Only a missing
// or unreadable input file is returned as an error; extraction problems are
// reported through Result.ExtractionError and the error note.
func (t *Triage) Process(ctx context.Context, filePath, source, itemID string) (Result, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("stat download: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("download %s is a directory", filePath)
	}

	ext := Ext(filePath)
	kind := KindForExt(ext)
	if !recognized(kind) {
		// Unknown extensions are kept unless the content is one we handle.
		if sniffed := SniffExtension(filePath); sniffed != "" && (kind == catalog.KindUnknown || recognized(KindForExt(sniffed))) {
			ext = sniffed
			kind = KindForExt(sniffed)
		}
	}

	logger := t.logger.With(
		logging.String(logging.FieldSource, source),
		logging.String(logging.FieldItemID, itemID),
	)

	switch {
	case kind == catalog.KindVRM:
		return Result{PrimaryPath: filePath, Kind: catalog.KindVRM, SizeBytes: info.Size(), Notes: catalog.Notes{}}, nil
	case kind == catalog.KindArchive:
		return t.processArchive(ctx, logger, filePath, archiveExtensions[ext], source, itemID, info.Size())
	case kind == catalog.KindNeedsConversion:
		return Result{
			PrimaryPath: filePath,
			Kind:        catalog.KindNeedsConversion,
			SizeBytes:   info.Size(),
			Notes: catalog.Notes{
				"original_format": strings.TrimPrefix(ext, "."),
				"conversion":      conversionNotes(),
			},
		}, nil
	default:
		return Result{PrimaryPath: filePath, Kind: kind, SizeBytes: info.Size(), Notes: catalog.Notes{}}, nil
	}
}

func (t *Triage) processArchive(ctx context.Context, logger *slog.Logger, archivePath, archiveType, source, itemID string, size int64) (Result, error) {
	notes := catalog.Notes{
		"original_archive": archivePath,
		"archive_type":     archiveType,
	}
	result := Result{
		PrimaryPath: archivePath,
		Kind:        catalog.KindArchive,
		SizeBytes:   size,
		Notes:       notes,
	}

	extractDir := t.ExtractionDir(source, itemID)
	start := time.Now()
	if err := t.extractor.Extract(ctx, archivePath, extractDir); err != nil {
		note := err.Error()
		var extractErr *ExtractError
		if errors.As(err, &extractErr) {
			note = extractErr.Note
		}
		notes["error"] = note
		result.ExtractionError = note
		logging.WarnWithContext(logger, "archive extraction failed", "extract_failed",
			logging.String("archive", filepath.Base(archivePath)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "install 7-Zip or verify the archive"),
			logging.String(logging.FieldImpact, "attempt marked failed"),
		)
		return result, nil
	}

	files, err := walkFiles(extractDir, t.maxDepth)
	if err != nil {
		notes["error"] = "Extraction failed: " + err.Error()
		result.ExtractionError = notes["error"].(string)
		return result, nil
	}
	notes["archive_contents"] = files
	logger.Info("archive extracted",
		logging.String("archive", filepath.Base(archivePath)),
		logging.Int("files", len(files)),
		logging.Duration("elapsed", time.Since(start)),
	)

	if metadata := parseSidecars(extractDir, files, t.textLimit); len(metadata) > 0 {
		notes["parsed_metadata"] = metadata
	}

	var (
		vrms    []string
		skipped []SkippedFile
		byExt   = map[string][]string{}
	)
	for _, rel := range files {
		full := filepath.Join(extractDir, filepath.FromSlash(rel))
		ext := strings.ToLower(path.Ext(rel))
		if ext != ".vrm" && !IsConvertible(ext) {
			if _, denied := t.skip.extensions[ext]; denied {
				skipped = append(skipped, SkippedFile{Path: rel, Reason: "pmx_format"})
			}
			continue
		}
		if decision := t.skip.Decide(ctx, full, ""); decision.Skip {
			skipped = append(skipped, SkippedFile{Path: rel, Reason: decision.Reason})
			continue
		}
		if ext == ".vrm" {
			vrms = append(vrms, full)
			continue
		}
		byExt[ext] = append(byExt[ext], rel)
	}
	if len(skipped) > 0 {
		notes["skipped_files"] = skipped
	}

	if len(vrms) > 0 {
		// files is sorted, so vrms[0] has the smallest relative path.
		primary, err := os.Stat(vrms[0])
		if err != nil {
			return Result{}, fmt.Errorf("stat primary vrm: %w", err)
		}
		result.PrimaryPath = vrms[0]
		result.Kind = catalog.KindVRM
		result.SizeBytes = primary.Size()
		result.AdditionalArtifacts = vrms[1:]
		logger.Info("vrm files found in archive",
			logging.Int("vrm_count", len(vrms)),
			logging.Int("skipped", len(skipped)),
		)
		return result, nil
	}

	glb := append(append([]string{}, byExt[".glb"]...), byExt[".gltf"]...)
	if len(glb) > 0 {
		notes["glb_files"] = glb
	}
	for ext, key := range map[string]string{".fbx": "fbx_files", ".obj": "obj_files", ".blend": "blend_files"} {
		if len(byExt[ext]) > 0 {
			notes[key] = byExt[ext]
		}
	}
	if len(glb)+len(byExt[".fbx"])+len(byExt[".obj"])+len(byExt[".blend"]) > 0 {
		notes["conversion"] = conversionNotes()
	}
	return result, nil
}

func recognized(kind catalog.Kind) bool {
	return kind == catalog.KindVRM || kind == catalog.KindArchive || kind == catalog.KindNeedsConversion
}

func conversionNotes() map[string]any {
	return map[string]any{
		"recommended_tools": []string{
			"Blender + VRM Add-on for direct VRM export",
			"Unity + UniVRM package",
		},
		"docs": []string{
			"https://vrm-addon-for-blender.info/en-us/",
			"https://github.com/vrm-c/UniVRM",
		},
		"note": "Alternate 3D formats require conversion to VRM",
	}
}
