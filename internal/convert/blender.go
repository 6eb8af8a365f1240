package convert

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
)

//go:embed blender_convert.py
var blenderScript string

const blenderInstallHint = "Install Blender from https://www.blender.org/download/"

var blenderInputs = map[string]struct{}{
	".fbx": {}, ".obj": {}, ".blend": {}, ".glb": {}, ".gltf": {},
}

// Blender converts through a headless Blender process running an embedded
// import/export script.
type Blender struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewBlender constructs a Blender converter. An empty binary defaults to "blender".
func NewBlender(binary string, timeout time.Duration, logger *slog.Logger) *Blender {
	if strings.TrimSpace(binary) == "" {
		binary = "blender"
	}
	return &Blender{
		binary:  binary,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "blender"),
	}
}

// Name implements Converter.
func (b *Blender) Name() string { return "blender" }

// Available reports whether the Blender binary resolves.
func (b *Blender) Available() bool {
	_, err := lookPath(b.binary)
	return err == nil
}

// Convert implements Converter.
func (b *Blender) Convert(ctx context.Context, inputPath, format string) (string, error) {
	ext := strings.ToLower(filepath.Ext(inputPath))
	if _, ok := blenderInputs[ext]; !ok {
		return "", fmt.Errorf("%w: blender cannot import %s", ErrUnsupportedFormat, ext)
	}
	if ext == "."+format {
		return "", fmt.Errorf("%w: input is already %s", ErrUnsupportedFormat, format)
	}
	if err := requireFile(inputPath); err != nil {
		return "", err
	}
	if !b.Available() {
		return "", fmt.Errorf("%w: %s. %s", ErrToolMissing, b.binary, blenderInstallHint)
	}

	script, err := os.CreateTemp("", "vrmscraper-blender-*.py")
	if err != nil {
		return "", fmt.Errorf("write blender script: %w", err)
	}
	defer os.Remove(script.Name())
	if _, err := script.WriteString(blenderScript); err != nil {
		script.Close()
		return "", fmt.Errorf("write blender script: %w", err)
	}
	if err := script.Close(); err != nil {
		return "", fmt.Errorf("write blender script: %w", err)
	}

	absIn, err := filepath.Abs(inputPath)
	if err != nil {
		return "", err
	}
	output := OutputPath(absIn, format)
	logger := logging.WithContext(ctx, b.logger)
	logger.Info("converting with blender",
		logging.String("input", filepath.Base(inputPath)),
		logging.String("format", format),
	)

	start := time.Now()
	run, err := runTool(ctx, "blender", b.binary, b.timeout,
		"--background", "--python", script.Name(), "--", absIn, output, format)
	for _, line := range strings.Split(run.stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "Blender") {
			logger.Debug("blender output", logging.String("line", line))
		}
	}
	if err != nil {
		_ = os.Remove(output)
		return "", err
	}
	if _, statErr := os.Stat(output); statErr != nil {
		return "", services.Wrap(services.ErrExternalTool, "convert", "blender", "no output produced: "+tail(run.stdout, 500), statErr)
	}
	logger.Info("blender conversion finished",
		logging.String("output", filepath.Base(output)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return output, nil
}
