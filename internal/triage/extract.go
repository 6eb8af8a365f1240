package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
)

var (
	commandContext = exec.CommandContext
	lookPath       = exec.LookPath
)

// ErrToolMissing reports that the external extractor is not installed.
var ErrToolMissing = errors.New("7-Zip not installed")

const installHint = "Install 7-Zip from https://7-zip.org/"

// Extractor unpacks archives with 7-Zip, falling back to native zip
// extraction when the tool is missing or fails on a zip file.
type Extractor struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExtractor constructs an extractor. An empty binary defaults to "7z".
func NewExtractor(binary string, timeout time.Duration, logger *slog.Logger) *Extractor {
	if strings.TrimSpace(binary) == "" {
		binary = "7z"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Extractor{
		binary:  binary,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "extractor"),
	}
}

// Available reports whether the external extractor resolves on PATH.
func (e *Extractor) Available() bool {
	_, err := lookPath(e.binary)
	return err == nil
}

// Extract unpacks archivePath into destDir. The archive itself is never
// modified. The returned error message is suitable for an error note.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	isZip := Ext(archivePath) == ".zip" || SniffExtension(archivePath) == ".zip"

	toolErr := ErrToolMissing
	if e.Available() {
		toolErr = e.runSevenZip(ctx, archivePath, destDir)
		if toolErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.WarnWithContext(e.logger, "7-Zip extraction failed", "extract_tool_failed",
			logging.String("archive", filepath.Base(archivePath)),
			logging.Error(toolErr),
			logging.String(logging.FieldErrorHint, "check the archive is complete or extract it manually"),
			logging.String(logging.FieldImpact, "falling back to native zip when possible"),
		)
	}
	if !isZip {
		if errors.Is(toolErr, ErrToolMissing) {
			return &ExtractError{Note: ErrToolMissing.Error() + ". " + installHint}
		}
		return &ExtractError{Note: "Extraction failed. " + installHint, Err: toolErr}
	}
	if err := extractZip(archivePath, destDir); err != nil {
		note := "Extraction failed. " + installHint
		if errors.Is(toolErr, ErrToolMissing) {
			note = ErrToolMissing.Error() + ". " + installHint
		}
		return &ExtractError{Note: note, Err: err}
	}
	return nil
}

// ExtractError carries the user-facing note recorded for a failed extraction.
type ExtractError struct {
	Note string
	Err  error
}

func (e *ExtractError) Error() string {
	if e.Err == nil {
		return e.Note
	}
	return e.Note + ": " + e.Err.Error()
}

func (e *ExtractError) Unwrap() []error {
	if e.Err == nil {
		return []error{services.ErrExtraction}
	}
	return []error{services.ErrExtraction, e.Err}
}

func (e *Extractor) runSevenZip(ctx context.Context, archivePath, destDir string) error {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := commandContext(runCtx, e.binary, "x", archivePath, "-o"+destDir, "-y") //nolint:gosec
	output, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return services.Wrap(services.ErrTimeout, "triage", "7z", fmt.Sprintf("timed out after %s", e.timeout), nil)
	}
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if len(detail) > 500 {
			detail = detail[len(detail)-500:]
		}
		return services.Wrap(services.ErrExternalTool, "triage", "7z", detail, err)
	}
	return nil
}

// extractZip writes every file entry of the archive under destDir, rejecting
// entries that would escape it.
func extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}
	for _, file := range reader.File {
		target, err := safeJoin(root, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if !file.Mode().IsRegular() {
			continue
		}
		if err := writeZipEntry(file, target); err != nil {
			return fmt.Errorf("extract %s: %w", file.Name, err)
		}
	}
	return nil
}

func writeZipEntry(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func safeJoin(root, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("zip entry %q has an absolute path", name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("zip entry %q escapes the extraction directory", name)
	}
	return target, nil
}
