package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
)

// Cache persists classifier results. The catalog store implements it.
type Cache interface {
	LookupClassification(ctx context.Context, path string, modTime time.Time, size int64) ([]byte, bool, error)
	StoreClassification(ctx context.Context, path string, modTime time.Time, size int64, data []byte) error
}

// Cached reuses results for files whose modification time and size are unchanged.
type Cached struct {
	inner  Classifier
	cache  Cache
	logger *slog.Logger
}

// NewCached wraps inner with cache.
func NewCached(inner Classifier, cache Cache, logger *slog.Logger) *Cached {
	return &Cached{
		inner:  inner,
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "classifier"),
	}
}

// Classify returns the cached verdict when still valid, otherwise classifies
// and stores the result. Cache failures are logged and never fail the call.
func (c *Cached) Classify(ctx context.Context, filePath, thumbnailPath string) (Result, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		abs = filePath
	}
	info, statErr := os.Stat(abs)
	if statErr == nil {
		data, ok, err := c.cache.LookupClassification(ctx, abs, info.ModTime(), info.Size())
		if err != nil {
			c.logger.Debug("classification cache lookup failed", logging.Error(err))
		} else if ok {
			var cached Result
			if err := json.Unmarshal(data, &cached); err == nil {
				cached.Strategies = append(cached.Strategies, "cache")
				return cached, nil
			}
		}
	}

	result, err := c.inner.Classify(ctx, filePath, thumbnailPath)
	if err != nil {
		return result, err
	}
	if statErr != nil {
		return result, nil
	}
	data, err := json.Marshal(result)
	if err == nil {
		err = c.cache.StoreClassification(ctx, abs, info.ModTime(), info.Size(), data)
	}
	if err != nil {
		c.logger.Debug("classification cache store failed", logging.Error(err))
	}
	return result, nil
}
