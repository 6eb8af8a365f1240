package preflight

import (
	"context"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Options selects the optional preflight checks.
type Options struct {
	// Online probes each enabled source's API endpoint.
	Online bool
}

// RunAll executes every applicable preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Raw downloads", cfg.Paths.RawDir),
		CheckDirectoryAccess("Extracted archives", cfg.Paths.ExtractedDir),
	}
	if cfg.Crawl.FetchThumbnails {
		results = append(results, CheckDirectoryAccess("Thumbnails", cfg.Paths.ThumbnailsDir))
	}

	results = append(results, CheckSourceCredentials(cfg)...)

	if opts.Online {
		for _, name := range cfg.Sources.Enabled {
			if url := endpointFor(cfg, name); url != "" {
				results = append(results, CheckEndpoint(ctx, name+" API", url))
			}
		}
	}
	return results
}
