package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Request spacing and retry backoff are shortened so tests stay fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		DataDir:       dataDir,
		RawDir:        filepath.Join(dataDir, "raw"),
		ExtractedDir:  filepath.Join(dataDir, "extracted"),
		ThumbnailsDir: filepath.Join(dataDir, "thumbnails"),
		LogDir:        filepath.Join(dataDir, "logs"),
		DatabasePath:  filepath.Join(dataDir, "catalog.db"),
	}
	cfgVal.HTTP.RateLimitDelay = 0
	cfgVal.HTTP.BackoffBase = 0.001
	cfgVal.HTTP.RequestTimeoutSeconds = 5
	cfgVal.HTTP.DownloadTimeoutSeconds = 5
	cfgVal.Sources.VRoid.TokenFile = filepath.Join(dataDir, ".vroid_tokens.json")
	cfgVal.Triage.ExtractTimeoutSeconds = 10
	cfgVal.Converter.BlenderTimeoutSeconds = 10
	cfgVal.Converter.FBX2glTFTimeoutSeconds = 10

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSources restricts the enabled source list.
func WithSources(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sources.Enabled = append([]string(nil), names...)
	}
}

// WithRateLimit overrides the per-source request spacing in seconds.
func WithRateLimit(seconds float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.HTTP.RateLimitDelay = seconds
	}
}

// WithClassifier enables the fuzzy classifier.
func WithClassifier(threshold int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Classifier.Enabled = true
		b.cfg.Classifier.FuzzyThreshold = threshold
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"7z", "blender", "FBX2glTF"}
		}
		for _, name := range names {
			writeStub(b, name, "#!/bin/sh\nexit 0\n")
		}
	}
}

// WithStubScript installs a named executable with the given shell body on PATH.
func WithStubScript(name, body string) ConfigOption {
	return func(b *configBuilder) {
		writeStub(b, name, "#!/bin/sh\n"+body+"\n")
	}
}

// WithoutBinaries points the external tool settings at names that cannot resolve.
func WithoutBinaries() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Triage.SevenZipBinary = "vrmscraper-missing-7z"
		b.cfg.Converter.BlenderBinary = "vrmscraper-missing-blender"
		b.cfg.Converter.FBX2glTFBinary = "vrmscraper-missing-fbx2gltf"
	}
}

func writeStub(b *configBuilder, name, script string) {
	binDir := filepath.Join(b.baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		b.t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
		b.t.Fatalf("write stub %s: %v", name, err)
	}

	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
		b.t.Fatalf("set PATH: %v", err)
	}
	b.t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
