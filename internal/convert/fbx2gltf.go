package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/fileutil"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
)

// FBX2glTF converts FBX files to binary glTF. It is faster than Blender but
// handles nothing else.
type FBX2glTF struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFBX2glTF constructs the converter. An empty binary defaults to "FBX2glTF".
func NewFBX2glTF(binary string, timeout time.Duration, logger *slog.Logger) *FBX2glTF {
	if strings.TrimSpace(binary) == "" {
		binary = "FBX2glTF"
	}
	return &FBX2glTF{
		binary:  binary,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "fbx2gltf"),
	}
}

// Name implements Converter.
func (f *FBX2glTF) Name() string { return "fbx2gltf" }

// Available reports whether the binary resolves.
func (f *FBX2glTF) Available() bool {
	_, err := lookPath(f.binary)
	return err == nil
}

// Convert implements Converter.
func (f *FBX2glTF) Convert(ctx context.Context, inputPath, format string) (string, error) {
	if ext := strings.ToLower(filepath.Ext(inputPath)); ext != ".fbx" {
		return "", fmt.Errorf("%w: fbx2gltf cannot import %s", ErrUnsupportedFormat, ext)
	}
	if format != "glb" {
		return "", fmt.Errorf("%w: fbx2gltf only writes glb", ErrUnsupportedFormat)
	}
	if err := requireFile(inputPath); err != nil {
		return "", err
	}
	if !f.Available() {
		return "", fmt.Errorf("%w: %s", ErrToolMissing, f.binary)
	}

	output := OutputPath(inputPath, format)
	base := strings.TrimSuffix(output, filepath.Ext(output))
	logger := logging.WithContext(ctx, f.logger)
	logger.Info("converting with fbx2gltf", logging.String("input", filepath.Base(inputPath)))

	if _, err := runTool(ctx, "fbx2gltf", f.binary, f.timeout,
		"--binary", "--input", inputPath, "--output", base); err != nil {
		return "", err
	}
	// The tool appends its own suffix; older releases add "_out".
	for _, produced := range []string{output, base + "_out.glb"} {
		if _, err := os.Stat(produced); err != nil {
			continue
		}
		if produced != output {
			if err := fileutil.MoveFile(produced, output); err != nil {
				return "", fmt.Errorf("move fbx2gltf output: %w", err)
			}
		}
		logger.Info("fbx2gltf conversion finished", logging.String("output", filepath.Base(output)))
		return output, nil
	}
	return "", services.Wrap(services.ErrExternalTool, "convert", "fbx2gltf", "no output produced", nil)
}
