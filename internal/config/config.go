package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains data directory layout configuration.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	RawDir        string `toml:"raw_dir"`
	ExtractedDir  string `toml:"extracted_dir"`
	ThumbnailsDir string `toml:"thumbnails_dir"`
	LogDir        string `toml:"log_dir"`
	DatabasePath  string `toml:"database_path"`
}

// HTTP contains the rate limit and retry policy shared by every source client.
type HTTP struct {
	RateLimitDelay         float64 `toml:"rate_limit_delay"`
	MaxRetries             int     `toml:"max_retries"`
	BackoffBase            float64 `toml:"backoff_base"`
	RequestTimeoutSeconds  int     `toml:"request_timeout_seconds"`
	DownloadTimeoutSeconds int     `toml:"download_timeout_seconds"`
	UserAgent              string  `toml:"user_agent"`
}

// Crawl contains one-shot crawl defaults.
type Crawl struct {
	Keywords          []string `toml:"keywords"`
	MaxPerSource      int      `toml:"max_per_source"`
	SkipExisting      bool     `toml:"skip_existing"`
	SkipAttempted     bool     `toml:"skip_attempted"`
	RetryFailed       bool     `toml:"retry_failed"`
	ConcurrentSources int      `toml:"concurrent_sources"`
	FetchThumbnails   bool     `toml:"fetch_thumbnails"`
}

// Continuous contains looping crawl settings.
type Continuous struct {
	BatchSize       int    `toml:"batch_size"`
	IntervalSeconds int    `toml:"interval_seconds"`
	Schedule        string `toml:"schedule"`
	MaxTotal        int    `toml:"max_total"`
}

// VRoid contains VRoid Hub credentials and endpoints.
type VRoid struct {
	ClientID      string `toml:"client_id"`
	ClientSecret  string `toml:"client_secret"`
	AccessToken   string `toml:"access_token"`
	RefreshToken  string `toml:"refresh_token"`
	TokenFile     string `toml:"token_file"`
	BaseURL       string `toml:"base_url"`
	IncludeHearts bool   `toml:"include_hearts"`
	IncludeOwn    bool   `toml:"include_own"`
}

// Sketchfab contains Sketchfab API settings.
type Sketchfab struct {
	APIToken string `toml:"api_token"`
	BaseURL  string `toml:"base_url"`
}

// GitHub contains GitHub code search settings.
type GitHub struct {
	Token         string   `toml:"token"`
	BaseURL       string   `toml:"base_url"`
	FallbackRepos []string `toml:"fallback_repos"`
}

// DeviantArt contains DeviantArt OAuth settings.
type DeviantArt struct {
	ClientID      string `toml:"client_id"`
	ClientSecret  string `toml:"client_secret"`
	AccessToken   string `toml:"access_token"`
	BaseURL       string `toml:"base_url"`
	TokenURL      string `toml:"token_url"`
	MatureContent bool   `toml:"mature_content"`
}

// Sources selects and configures the platform adapters.
type Sources struct {
	Enabled    []string   `toml:"enabled"`
	VRoid      VRoid      `toml:"vroid"`
	Sketchfab  Sketchfab  `toml:"sketchfab"`
	GitHub     GitHub     `toml:"github"`
	DeviantArt DeviantArt `toml:"deviantart"`
}

// Triage contains archive handling and skip filtering settings.
type Triage struct {
	SevenZipBinary        string   `toml:"sevenzip_binary"`
	ExtractTimeoutSeconds int      `toml:"extract_timeout_seconds"`
	MaxWalkDepth          int      `toml:"max_walk_depth"`
	TextSidecarLimit      int      `toml:"text_sidecar_limit"`
	SkipExtensions        []string `toml:"skip_extensions"`
	AccessoryKeywords     []string `toml:"accessory_keywords"`
}

// Classifier contains the optional skip classifier settings.
type Classifier struct {
	Enabled        bool `toml:"enabled"`
	FuzzyThreshold int  `toml:"fuzzy_threshold"`
	Cache          bool `toml:"cache"`
}

// Converter contains external format converter settings.
type Converter struct {
	TargetFormat           string `toml:"target_format"`
	BlenderBinary          string `toml:"blender_binary"`
	FBX2glTFBinary         string `toml:"fbx2gltf_binary"`
	BlenderTimeoutSeconds  int    `toml:"blender_timeout_seconds"`
	FBX2glTFTimeoutSeconds int    `toml:"fbx2gltf_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the scraper.
//
// Configuration sections by subsystem:
//   - Paths: data directory layout and catalog database location
//   - HTTP: per-source request spacing, retries, and timeouts
//   - Crawl: one-shot crawl defaults
//   - Continuous: looping crawl cadence and ceiling
//   - Sources: enabled platforms and their credentials
//   - Triage: archive extraction and skip filtering
//   - Classifier: optional skip classifier
//   - Converter: external format conversion tools
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	HTTP       HTTP       `toml:"http"`
	Crawl      Crawl      `toml:"crawl"`
	Continuous Continuous `toml:"continuous"`
	Sources    Sources    `toml:"sources"`
	Triage     Triage     `toml:"triage"`
	Classifier Classifier `toml:"classifier"`
	Converter  Converter  `toml:"converter"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return filepath.Join(xdg.ConfigHome, appName, "config.toml"), nil
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(cfg.Paths.DataDir); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env files from the working directory and the data
// directory. Variables already present in the environment are never replaced.
func loadDotEnv(dataDir string) error {
	candidates := []string{".env"}
	if env, ok := os.LookupEnv("DATA_DIR"); ok && strings.TrimSpace(env) != "" {
		dataDir = env
	}
	if expanded, err := expandPath(dataDir); err == nil && expanded != "" {
		candidates = append(candidates, filepath.Join(expanded, ".env"))
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(appName + ".toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data directory layout.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.RawDir,
		c.Paths.ExtractedDir,
		c.Paths.ThumbnailsDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.DatabasePath),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SourceEnabled reports whether the named platform is part of the crawl.
func (c *Config) SourceEnabled(name string) bool {
	for _, enabled := range c.Sources.Enabled {
		if enabled == name {
			return true
		}
	}
	return false
}

// RateLimitDelay returns the minimum spacing between requests of one source.
func (c *Config) RateLimitDelay() time.Duration {
	return secondsToDuration(c.HTTP.RateLimitDelay)
}

// BackoffBase returns the base delay for exponential retry backoff.
func (c *Config) BackoffBase() time.Duration {
	return secondsToDuration(c.HTTP.BackoffBase)
}

// RequestTimeout returns the per-request timeout for API calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.RequestTimeoutSeconds) * time.Second
}

// DownloadTimeout returns the timeout applied to streamed downloads.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.HTTP.DownloadTimeoutSeconds) * time.Second
}

// ContinuousInterval returns the wait between continuous crawl batches.
func (c *Config) ContinuousInterval() time.Duration {
	return time.Duration(c.Continuous.IntervalSeconds) * time.Second
}

// ExtractTimeout returns the wall-clock limit for the external extractor.
func (c *Config) ExtractTimeout() time.Duration {
	return time.Duration(c.Triage.ExtractTimeoutSeconds) * time.Second
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	redacted.Sources.VRoid.ClientSecret = redact(redacted.Sources.VRoid.ClientSecret)
	redacted.Sources.VRoid.AccessToken = redact(redacted.Sources.VRoid.AccessToken)
	redacted.Sources.VRoid.RefreshToken = redact(redacted.Sources.VRoid.RefreshToken)
	redacted.Sources.Sketchfab.APIToken = redact(redacted.Sources.Sketchfab.APIToken)
	redacted.Sources.GitHub.Token = redact(redacted.Sources.GitHub.Token)
	redacted.Sources.DeviantArt.ClientSecret = redact(redacted.Sources.DeviantArt.ClientSecret)
	redacted.Sources.DeviantArt.AccessToken = redact(redacted.Sources.DeviantArt.AccessToken)
	return toml.Marshal(redacted)
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return "********"
}
