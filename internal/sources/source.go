package sources

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"

	"github.com/coff33ninja/vrm-auto-scraper/internal/httpclient"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
)

// ErrSequenceConsumed is yielded when a Search sequence is ranged a second time.
var ErrSequenceConsumed = errors.New("sources: search sequence already consumed")

// Candidate is a platform item discovered during search, before download.
type Candidate struct {
	ItemID       string
	DisplayName  string
	Artist       string
	SourceURL    string
	Downloadable bool
	License      string
	LicenseURL   string
	ThumbnailURL string
	DownloadURL  string
}

// Source is a platform adapter.
type Source interface {
	// Name is the stable identifier stored as the catalog source key.
	Name() string
	// Search enumerates at most maxResults downloadable candidates. Empty
	// keywords fall back to platform default terms. A yielded error ends the
	// sequence and means the whole source failed.
	Search(ctx context.Context, keywords []string, maxResults int) iter.Seq2[Candidate, error]
	// Download fetches c into destDir and returns the local file path.
	Download(ctx context.Context, c Candidate, destDir string) (string, error)
}

// singleUse wraps produce so the sequence can only be ranged once.
func singleUse(produce func(yield func(Candidate, error) bool)) iter.Seq2[Candidate, error] {
	var used atomic.Bool
	return func(yield func(Candidate, error) bool) {
		if used.Swap(true) {
			yield(Candidate{}, ErrSequenceConsumed)
			return
		}
		produce(yield)
	}
}

// collector enforces the result limit and per-call deduplication.
type collector struct {
	yield   func(Candidate, error) bool
	seen    map[string]struct{}
	max     int
	count   int
	stopped bool
	logger  *slog.Logger
}

func newCollector(maxResults int, yield func(Candidate, error) bool, logger *slog.Logger) *collector {
	return &collector{
		yield:  yield,
		seen:   make(map[string]struct{}),
		max:    maxResults,
		logger: logger,
	}
}

// more reports whether enumeration should keep going.
func (c *collector) more() bool {
	return !c.stopped && c.count < c.max
}

// remaining is the number of results still wanted.
func (c *collector) remaining() int {
	if n := c.max - c.count; n > 0 {
		return n
	}
	return 0
}

// offer yields cand when it is downloadable and unseen, and reports whether
// enumeration should continue.
func (c *collector) offer(cand Candidate) bool {
	if !c.more() {
		return false
	}
	if !cand.Downloadable || cand.ItemID == "" {
		return true
	}
	if _, dup := c.seen[cand.ItemID]; dup {
		return true
	}
	c.seen[cand.ItemID] = struct{}{}
	c.count++
	if !c.yield(cand, nil) {
		c.stopped = true
		return false
	}
	return c.more()
}

// fail yields err and ends the sequence.
func (c *collector) fail(err error) {
	if c.stopped {
		return
	}
	c.stopped = true
	c.yield(Candidate{}, err)
}

// queryFailed handles an error from one query. Errors that will repeat for
// every query end the sequence; anything else is logged and the caller moves
// on to its next query. The return value reports whether to continue.
func (c *collector) queryFailed(query string, err error) bool {
	if fatalSearchError(err) {
		c.fail(err)
		return false
	}
	logging.WarnWithContext(c.logger, "search query failed", "search_query_failed",
		logging.String("query", query),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the API token and platform status"),
		logging.String(logging.FieldImpact, "query skipped"),
	)
	return c.more()
}

func fatalSearchError(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, services.ErrConfiguration):
		return true
	case httpclient.IsStatus(err, http.StatusUnauthorized), httpclient.IsStatus(err, http.StatusForbidden):
		return true
	default:
		return false
	}
}

// resolveURL resolves href against base. Relative hrefs keep base's origin.
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

func withQuery(base string, params url.Values) string {
	if len(params) == 0 {
		return base
	}
	return base + "?" + params.Encode()
}

// sniffRename gives an extensionless download the extension its content
// implies, or fallback when nothing is recognized.
func sniffRename(path, fallback string) (string, error) {
	if filepath.Ext(path) != "" {
		return path, nil
	}
	ext := fallback
	if mtype, err := mimetype.DetectFile(path); err == nil {
		for m := mtype; m != nil; m = m.Parent() {
			if candidate := m.Extension(); candidate != "" && !m.Is("application/octet-stream") && !m.Is("text/plain") {
				ext = candidate
				break
			}
		}
	}
	if ext == "" {
		return path, nil
	}
	renamed := path + ext
	if err := os.Rename(path, renamed); err != nil {
		return "", err
	}
	return renamed, nil
}
