package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateHTTP(); err != nil {
		return err
	}
	if err := c.validateCrawl(); err != nil {
		return err
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateTriage(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateConverter(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateHTTP() error {
	if c.HTTP.RateLimitDelay < 0 {
		return errors.New("http.rate_limit_delay must not be negative")
	}
	if c.HTTP.BackoffBase < 0 {
		return errors.New("http.backoff_base must not be negative")
	}
	if c.HTTP.MaxRetries < 0 {
		return errors.New("http.max_retries must not be negative")
	}
	return ensurePositiveMap(map[string]int{
		"http.request_timeout_seconds":  c.HTTP.RequestTimeoutSeconds,
		"http.download_timeout_seconds": c.HTTP.DownloadTimeoutSeconds,
	})
}

func (c *Config) validateCrawl() error {
	if c.Crawl.MaxPerSource <= 0 {
		return errors.New("crawl.max_per_source must be positive")
	}
	if c.Continuous.BatchSize <= 0 {
		return errors.New("continuous.batch_size must be positive")
	}
	if c.Continuous.IntervalSeconds <= 0 {
		return errors.New("continuous.interval_seconds must be positive")
	}
	if c.Continuous.MaxTotal < 0 {
		return errors.New("continuous.max_total must not be negative")
	}
	if c.Continuous.Schedule != "" {
		if _, err := cron.ParseStandard(c.Continuous.Schedule); err != nil {
			return fmt.Errorf("continuous.schedule: %w", err)
		}
	}
	return nil
}

func (c *Config) validateSources() error {
	for _, name := range c.Sources.Enabled {
		if !slices.Contains(KnownSources, name) {
			return fmt.Errorf("sources.enabled: unknown source %q (known: %v)", name, KnownSources)
		}
	}
	return nil
}

func (c *Config) validateTriage() error {
	if c.Triage.MaxWalkDepth < 1 {
		return errors.New("triage.max_walk_depth must be at least 1")
	}
	return ensurePositiveMap(map[string]int{
		"triage.extract_timeout_seconds": c.Triage.ExtractTimeoutSeconds,
		"triage.text_sidecar_limit":      c.Triage.TextSidecarLimit,
	})
}

func (c *Config) validateClassifier() error {
	if c.Classifier.FuzzyThreshold < 0 || c.Classifier.FuzzyThreshold > 100 {
		return errors.New("classifier.fuzzy_threshold must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateConverter() error {
	switch c.Converter.TargetFormat {
	case "vrm", "glb":
	default:
		return fmt.Errorf("converter.target_format: unsupported value %q (use vrm or glb)", c.Converter.TargetFormat)
	}
	return ensurePositiveMap(map[string]int{
		"converter.blender_timeout_seconds":  c.Converter.BlenderTimeoutSeconds,
		"converter.fbx2gltf_timeout_seconds": c.Converter.FBX2glTFTimeoutSeconds,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
