package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeHTTP(); err != nil {
		return err
	}
	c.normalizeCrawl()
	c.normalizeSources()
	c.normalizeTriage()
	c.normalizeConverter()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir()
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}

	derived := []struct {
		key   string
		value *string
		name  string
	}{
		{key: "paths.raw_dir", value: &c.Paths.RawDir, name: "raw"},
		{key: "paths.extracted_dir", value: &c.Paths.ExtractedDir, name: "extracted"},
		{key: "paths.thumbnails_dir", value: &c.Paths.ThumbnailsDir, name: "thumbnails"},
		{key: "paths.log_dir", value: &c.Paths.LogDir, name: "logs"},
		{key: "paths.database_path", value: &c.Paths.DatabasePath, name: defaultDatabaseName},
	}
	for _, entry := range derived {
		if strings.TrimSpace(*entry.value) == "" {
			*entry.value = filepath.Join(c.Paths.DataDir, entry.name)
		}
		if *entry.value, err = expandPath(*entry.value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeHTTP() error {
	if value, ok := os.LookupEnv("RATE_LIMIT_DELAY"); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_DELAY: %w", err)
		}
		c.HTTP.RateLimitDelay = parsed
	}
	if c.HTTP.RequestTimeoutSeconds == 0 {
		c.HTTP.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if c.HTTP.DownloadTimeoutSeconds == 0 {
		c.HTTP.DownloadTimeoutSeconds = defaultDownloadTimeoutSeconds
	}
	c.HTTP.UserAgent = strings.TrimSpace(c.HTTP.UserAgent)
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = defaultUserAgent
	}
	return nil
}

func (c *Config) normalizeCrawl() {
	c.Crawl.Keywords = cleanList(c.Crawl.Keywords, false)
	if c.Crawl.ConcurrentSources <= 0 {
		c.Crawl.ConcurrentSources = defaultConcurrentSources
	}
	c.Continuous.Schedule = strings.TrimSpace(c.Continuous.Schedule)
}

func (c *Config) normalizeSources() {
	c.Sources.Enabled = cleanList(c.Sources.Enabled, true)

	v := &c.Sources.VRoid
	fillFromEnv(&v.ClientID, "VROID_CLIENT_ID")
	fillFromEnv(&v.ClientSecret, "VROID_CLIENT_SECRET")
	fillFromEnv(&v.AccessToken, "VROID_ACCESS_TOKEN")
	fillFromEnv(&v.RefreshToken, "VROID_REFRESH_TOKEN")
	v.BaseURL = trimURL(v.BaseURL, defaultVRoidBaseURL)
	if strings.TrimSpace(v.TokenFile) == "" {
		v.TokenFile = filepath.Join(c.Paths.DataDir, defaultTokenFileName)
	}
	if expanded, err := expandPath(v.TokenFile); err == nil {
		v.TokenFile = expanded
	}

	s := &c.Sources.Sketchfab
	fillFromEnv(&s.APIToken, "SKETCHFAB_API_TOKEN")
	s.BaseURL = trimURL(s.BaseURL, defaultSketchfabBaseURL)

	g := &c.Sources.GitHub
	fillFromEnv(&g.Token, "GITHUB_TOKEN")
	g.BaseURL = trimURL(g.BaseURL, defaultGitHubBaseURL)
	g.FallbackRepos = cleanList(g.FallbackRepos, false)

	d := &c.Sources.DeviantArt
	fillFromEnv(&d.ClientID, "DEVIANTART_CLIENT_ID")
	fillFromEnv(&d.ClientSecret, "DEVIANTART_CLIENT_SECRET")
	fillFromEnv(&d.AccessToken, "DEVIANTART_ACCESS_TOKEN")
	d.BaseURL = trimURL(d.BaseURL, defaultDeviantArtBaseURL)
	d.TokenURL = trimURL(d.TokenURL, defaultDeviantArtTokenURL)
}

func (c *Config) normalizeTriage() {
	c.Triage.SevenZipBinary = strings.TrimSpace(c.Triage.SevenZipBinary)
	if c.Triage.SevenZipBinary == "" {
		c.Triage.SevenZipBinary = defaultSevenZipBinary
	}
	if c.Triage.TextSidecarLimit == 0 {
		c.Triage.TextSidecarLimit = defaultTextSidecarLimit
	}
	exts := make([]string, 0, len(c.Triage.SkipExtensions))
	for _, ext := range cleanList(c.Triage.SkipExtensions, true) {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Triage.SkipExtensions = exts
	c.Triage.AccessoryKeywords = cleanList(c.Triage.AccessoryKeywords, true)
}

func (c *Config) normalizeConverter() {
	c.Converter.TargetFormat = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Converter.TargetFormat), "."))
	if c.Converter.TargetFormat == "" {
		c.Converter.TargetFormat = defaultTargetFormat
	}
	c.Converter.BlenderBinary = strings.TrimSpace(c.Converter.BlenderBinary)
	if c.Converter.BlenderBinary == "" {
		c.Converter.BlenderBinary = defaultBlenderBinary
	}
	c.Converter.FBX2glTFBinary = strings.TrimSpace(c.Converter.FBX2glTFBinary)
	if c.Converter.FBX2glTFBinary == "" {
		c.Converter.FBX2glTFBinary = defaultFBX2glTFBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func fillFromEnv(target *string, key string) {
	*target = strings.TrimSpace(*target)
	if *target != "" {
		return
	}
	if value, ok := os.LookupEnv(key); ok {
		*target = strings.TrimSpace(value)
	}
}

func trimURL(value, fallback string) string {
	value = strings.TrimRight(strings.TrimSpace(value), "/")
	if value == "" {
		return fallback
	}
	return value
}

func cleanList(values []string, lower bool) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if lower {
			value = strings.ToLower(value)
		}
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
