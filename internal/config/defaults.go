package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "vrmscraper"

const (
	defaultRateLimitDelay         = 1.0
	defaultMaxRetries             = 3
	defaultBackoffBase            = 1.0
	defaultRequestTimeoutSeconds  = 30
	defaultDownloadTimeoutSeconds = 300
	defaultUserAgent              = "vrm-auto-scraper/dev"
	defaultMaxPerSource           = 50
	defaultConcurrentSources      = 1
	defaultContinuousBatchSize    = 50
	defaultContinuousInterval     = 300
	defaultVRoidBaseURL           = "https://hub.vroid.com/api"
	defaultSketchfabBaseURL       = "https://api.sketchfab.com/v3"
	defaultGitHubBaseURL          = "https://api.github.com"
	defaultDeviantArtBaseURL      = "https://www.deviantart.com/api/v1/oauth2"
	defaultDeviantArtTokenURL     = "https://www.deviantart.com/oauth2/token"
	defaultSevenZipBinary         = "7z"
	defaultExtractTimeoutSeconds  = 300
	defaultMaxWalkDepth           = 16
	defaultTextSidecarLimit       = 2000
	defaultFuzzyThreshold         = 80
	defaultTargetFormat           = "vrm"
	defaultBlenderBinary          = "blender"
	defaultFBX2glTFBinary         = "FBX2glTF"
	defaultBlenderTimeoutSeconds  = 300
	defaultFBX2glTFTimeoutSeconds = 120
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultTokenFileName          = ".vroid_tokens.json"
	defaultDatabaseName           = "catalog.db"
)

// KnownSources lists every platform adapter the scraper can build.
var KnownSources = []string{"vroid", "sketchfab", "github", "deviantart"}

// DefaultSkipExtensions are formats that are never imported.
var DefaultSkipExtensions = []string{".pmx", ".pmd"}

// DefaultAccessoryKeywords are matched against lowercased paths in list order.
var DefaultAccessoryKeywords = []string{
	"accessory", "accessories", "props", "prop",
	"weapon", "weapons", "item", "items",
	"clothing", "clothes", "outfit", "costume",
	"hair", "wig", "stage", "background", "scene", "environment",
	"effect", "effects", "particle",
	"sword", "katana", "blade", "dagger", "knife", "gun", "pistol", "rifle",
}

// DefaultGitHubFallbackRepos are walked when code search is unavailable.
var DefaultGitHubFallbackRepos = []string{
	"vrm-c/UniVRM",
	"pixiv/three-vrm",
	"vrm-c/vrm-specification",
}

func defaultDataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir(),
		},
		HTTP: HTTP{
			RateLimitDelay:         defaultRateLimitDelay,
			MaxRetries:             defaultMaxRetries,
			BackoffBase:            defaultBackoffBase,
			RequestTimeoutSeconds:  defaultRequestTimeoutSeconds,
			DownloadTimeoutSeconds: defaultDownloadTimeoutSeconds,
			UserAgent:              defaultUserAgent,
		},
		Crawl: Crawl{
			MaxPerSource:      defaultMaxPerSource,
			SkipExisting:      true,
			SkipAttempted:     true,
			ConcurrentSources: defaultConcurrentSources,
			FetchThumbnails:   true,
		},
		Continuous: Continuous{
			BatchSize:       defaultContinuousBatchSize,
			IntervalSeconds: defaultContinuousInterval,
		},
		Sources: Sources{
			Enabled: append([]string(nil), KnownSources...),
			VRoid: VRoid{
				BaseURL: defaultVRoidBaseURL,
			},
			Sketchfab: Sketchfab{
				BaseURL: defaultSketchfabBaseURL,
			},
			GitHub: GitHub{
				BaseURL:       defaultGitHubBaseURL,
				FallbackRepos: append([]string(nil), DefaultGitHubFallbackRepos...),
			},
			DeviantArt: DeviantArt{
				BaseURL:  defaultDeviantArtBaseURL,
				TokenURL: defaultDeviantArtTokenURL,
			},
		},
		Triage: Triage{
			SevenZipBinary:        defaultSevenZipBinary,
			ExtractTimeoutSeconds: defaultExtractTimeoutSeconds,
			MaxWalkDepth:          defaultMaxWalkDepth,
			TextSidecarLimit:      defaultTextSidecarLimit,
			SkipExtensions:        append([]string(nil), DefaultSkipExtensions...),
			AccessoryKeywords:     append([]string(nil), DefaultAccessoryKeywords...),
		},
		Classifier: Classifier{
			FuzzyThreshold: defaultFuzzyThreshold,
			Cache:          true,
		},
		Converter: Converter{
			TargetFormat:           defaultTargetFormat,
			BlenderBinary:          defaultBlenderBinary,
			FBX2glTFBinary:         defaultFBX2glTFBinary,
			BlenderTimeoutSeconds:  defaultBlenderTimeoutSeconds,
			FBX2glTFTimeoutSeconds: defaultFBX2glTFTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
