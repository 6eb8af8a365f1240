package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
)

var (
	commandContext = exec.CommandContext
	lookPath       = exec.LookPath
)

var (
	// ErrUnsupportedFormat reports an input or output format a converter cannot handle.
	ErrUnsupportedFormat = errors.New("unsupported conversion")
	// ErrToolMissing reports that a converter's binary is not installed.
	ErrToolMissing = errors.New("converter not installed")
)

// Converter turns one input file into format and returns the output path.
type Converter interface {
	Name() string
	Convert(ctx context.Context, inputPath, format string) (string, error)
}

// Formats lists the supported target formats.
var Formats = []string{"vrm", "glb"}

// NormalizeFormat lowercases format and strips a leading dot. It rejects
// anything outside Formats.
func NormalizeFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	for _, candidate := range Formats {
		if candidate == format {
			return format, nil
		}
	}
	return "", services.Wrap(services.ErrValidation, "convert", "format", fmt.Sprintf("unsupported target format %q (use vrm or glb)", format), nil)
}

// OutputPath returns where a converter writes inputPath converted to format.
func OutputPath(inputPath, format string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "." + format
}

// toolRun captures the outcome of one external command.
type toolRun struct {
	stdout string
	stderr string
}

func runTool(ctx context.Context, tool, binary string, timeout time.Duration, args ...string) (toolRun, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := commandContext(runCtx, binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	run := toolRun{stdout: stdout.String(), stderr: stderr.String()}
	if ctx.Err() != nil {
		return run, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return run, services.Wrap(services.ErrTimeout, "convert", tool, fmt.Sprintf("timed out after %s", timeout), nil)
	}
	if err != nil {
		return run, services.Wrap(services.ErrExternalTool, "convert", tool, tail(run.stderr, 500), err)
	}
	return run, nil
}

func tail(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) > limit {
		text = text[len(text)-limit:]
	}
	return text
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %s is a directory", path)
	}
	return nil
}

// Chain tries converters in order and returns the first success.
type Chain struct {
	converters []Converter
}

// NewChain builds a chain. Nil converters are ignored.
func NewChain(converters ...Converter) *Chain {
	chain := &Chain{}
	for _, c := range converters {
		if c != nil {
			chain.converters = append(chain.converters, c)
		}
	}
	return chain
}

// Name implements Converter.
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.converters))
	for _, conv := range c.converters {
		names = append(names, conv.Name())
	}
	return strings.Join(names, "+")
}

// Convert implements Converter. Unsupported and missing converters are
// passed over; when nothing could even try, ErrUnsupportedFormat is returned.
func (c *Chain) Convert(ctx context.Context, inputPath, format string) (string, error) {
	var errs []error
	tried := false
	for _, conv := range c.converters {
		out, err := conv.Convert(ctx, inputPath, format)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !errors.Is(err, ErrUnsupportedFormat) {
			tried = true
		}
		errs = append(errs, fmt.Errorf("%s: %w", conv.Name(), err))
	}
	if !tried {
		return "", fmt.Errorf("%w: %s to %s", ErrUnsupportedFormat, filepath.Ext(inputPath), format)
	}
	return "", errors.Join(errs...)
}
