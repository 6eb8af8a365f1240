package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"github.com/coff33ninja/vrm-auto-scraper/internal/classify"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
)

// Decision is the outcome of the skip chain for one file.
type Decision struct {
	Skip   bool
	Reason string
}

// SkipChain decides whether a file is a non-avatar asset. Stages run in a
// fixed order and the first skip verdict wins: extension denylist, then the
// classifier (when present), then keyword matching.
type SkipChain struct {
	extensions map[string]struct{}
	classifier classify.Classifier
	keywords   []string
	matcher    *ahocorasick.Matcher
	logger     *slog.Logger
}

// NewSkipChain builds a chain. classifier may be nil.
func NewSkipChain(extensions, keywords []string, classifier classify.Classifier, logger *slog.Logger) *SkipChain {
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	cleaned := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			cleaned = append(cleaned, kw)
		}
	}
	chain := &SkipChain{
		extensions: exts,
		classifier: classifier,
		keywords:   cleaned,
		logger:     logging.NewComponentLogger(logger, "skip"),
	}
	if len(cleaned) > 0 {
		chain.matcher = ahocorasick.NewStringMatcher(cleaned)
	}
	return chain
}

// Decide runs the chain for filePath. thumbnailPath is forwarded to the classifier.
func (c *SkipChain) Decide(ctx context.Context, filePath, thumbnailPath string) Decision {
	if _, ok := c.extensions[Ext(filePath)]; ok {
		return Decision{Skip: true, Reason: "pmx_format"}
	}

	if c.classifier != nil {
		result, err := c.classifier.Classify(ctx, filePath, thumbnailPath)
		switch {
		case err != nil:
			c.logger.Debug("classifier unavailable, using keywords",
				logging.String("file", filePath),
				logging.Error(err),
			)
		case result.ShouldSkip:
			return Decision{Skip: true, Reason: fmt.Sprintf("ai:%s:%.2f", result.Category, result.Confidence)}
		}
	}

	if kw, ok := c.matchKeyword(filePath); ok {
		return Decision{Skip: true, Reason: "accessory_keyword:" + kw}
	}
	return Decision{}
}

// matchKeyword returns the earliest listed keyword contained in the lowercased path.
func (c *SkipChain) matchKeyword(filePath string) (string, bool) {
	if c.matcher == nil {
		return "", false
	}
	hits := c.matcher.Match([]byte(strings.ToLower(filePath)))
	if len(hits) == 0 {
		return "", false
	}
	best := hits[0]
	for _, idx := range hits[1:] {
		if idx < best {
			best = idx
		}
	}
	return c.keywords[best], true
}
