package classify

import (
	"log/slog"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
)

// FromConfig returns the classifier described by cfg, or nil when the
// classifier is disabled. cache may be nil.
func FromConfig(cfg *config.Config, cache Cache, logger *slog.Logger) Classifier {
	if cfg == nil || !cfg.Classifier.Enabled {
		return nil
	}
	fuzzy := NewFuzzy(cfg.Classifier.FuzzyThreshold)
	if cfg.Classifier.Cache && cache != nil {
		return NewCached(fuzzy, cache, logger)
	}
	return fuzzy
}
