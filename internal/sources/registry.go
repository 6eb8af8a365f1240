package sources

import (
	"fmt"
	"log/slog"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/httpclient"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
)

type constructor func(*config.Config, *slog.Logger, ...httpclient.Option) (Source, error)

var constructors = map[string]constructor{
	vroidName:      adapt(NewVRoid),
	sketchfabName:  adapt(NewSketchfab),
	githubName:     adapt(NewGitHub),
	deviantArtName: adapt(NewDeviantArt),
}

// adapt keeps a failed constructor from returning a non-nil Source holding a
// nil pointer.
func adapt[S Source](ctor func(*config.Config, *slog.Logger, ...httpclient.Option) (S, error)) constructor {
	return func(cfg *config.Config, logger *slog.Logger, opts ...httpclient.Option) (Source, error) {
		src, err := ctor(cfg, logger, opts...)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// Build constructs every enabled source in configuration order. Sources that
// cannot be configured are logged, left out, and returned as errors so callers
// can report them; the others proceed.
func Build(cfg *config.Config, logger *slog.Logger, opts ...httpclient.Option) ([]Source, []error) {
	log := logging.NewComponentLogger(logger, "sources")
	var (
		built []Source
		errs  []error
	)
	for _, name := range cfg.Sources.Enabled {
		ctor, ok := constructors[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown source %q", name))
			continue
		}
		src, err := ctor(cfg, logger, opts...)
		if err != nil {
			logging.WarnWithContext(log, "source unavailable", "source_config_failed",
				logging.String(logging.FieldSource, name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "add the missing credentials to config.toml or .env"),
				logging.String(logging.FieldImpact, "source skipped"),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		built = append(built, src)
	}
	return built, errs
}

// Names returns the identifiers of srcs.
func Names(srcs []Source) []string {
	names := make([]string, 0, len(srcs))
	for _, src := range srcs {
		names = append(names, src.Name())
	}
	return names
}
