package crawler

import (
	"fmt"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
)

// maxErrors caps the error strings retained in a Result.
const maxErrors = 100

// Options controls one crawl batch.
type Options struct {
	Keywords     []string
	MaxPerSource int
	// SkipExisting skips candidates that already have a catalog entry.
	SkipExisting bool
	// SkipAttempted skips candidates with any recorded attempt.
	SkipAttempted bool
	// RetryFailed re-downloads attempts in failed status even when SkipAttempted is set.
	RetryFailed       bool
	ConcurrentSources int
	FetchThumbnails   bool
}

// OptionsFromConfig returns the crawl defaults from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Keywords:          append([]string(nil), cfg.Crawl.Keywords...),
		MaxPerSource:      cfg.Crawl.MaxPerSource,
		SkipExisting:      cfg.Crawl.SkipExisting,
		SkipAttempted:     cfg.Crawl.SkipAttempted,
		RetryFailed:       cfg.Crawl.RetryFailed,
		ConcurrentSources: cfg.Crawl.ConcurrentSources,
		FetchThumbnails:   cfg.Crawl.FetchThumbnails,
	}
}

// Result summarizes a crawl batch.
type Result struct {
	Downloaded int
	Skipped    int
	Failed     int
	// Errors holds human-readable failure messages, capped at 100.
	Errors []string
	// Dropped counts messages that did not fit in Errors.
	Dropped int
	// BySource breaks the counts down per source name.
	BySource map[string]SourceResult
	Duration time.Duration
}

// SourceResult holds the counts for one source.
type SourceResult struct {
	Downloaded int
	Skipped    int
	Failed     int
}

func (r *Result) addError(msg string) {
	if len(r.Errors) >= maxErrors {
		r.Dropped++
		return
	}
	r.Errors = append(r.Errors, msg)
}

func (r *Result) merge(source string, other Result) {
	r.Downloaded += other.Downloaded
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	for _, msg := range other.Errors {
		r.addError(msg)
	}
	r.Dropped += other.Dropped
	if r.BySource == nil {
		r.BySource = make(map[string]SourceResult)
	}
	current := r.BySource[source]
	current.Downloaded += other.Downloaded
	current.Skipped += other.Skipped
	current.Failed += other.Failed
	r.BySource[source] = current
}

// String renders the one-line batch summary.
func (r Result) String() string {
	return fmt.Sprintf("downloaded=%d skipped=%d failed=%d errors=%d",
		r.Downloaded, r.Skipped, r.Failed, len(r.Errors)+r.Dropped)
}
