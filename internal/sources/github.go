package sources

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/httpclient"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
	"github.com/coff33ninja/vrm-auto-scraper/internal/textutil"
)

const (
	githubName         = "github"
	githubWalkDepth    = 3
	githubCodePageSize = 100
	githubRepoPageSize = 30
	githubRawBase      = "https://raw.githubusercontent.com"
)

var (
	githubDefaultTerms = []string{"vrm", "vroid"}
	githubSkipDirs     = map[string]struct{}{
		"node_modules": {}, ".git": {}, "dist": {}, "build": {}, "__pycache__": {},
	}
	linkNextPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="next"`)
)

// GitHub finds .vrm files through code search, or by walking known sample
// repositories when code search is unavailable.
type GitHub struct {
	client        *httpclient.Client
	baseURL       string
	token         string
	fallbackRepos []string
	logger        *slog.Logger

	mu       sync.Mutex
	licenses map[string]string
}

// NewGitHub builds the adapter. The token is optional.
func NewGitHub(cfg *config.Config, logger *slog.Logger, opts ...httpclient.Option) (*GitHub, error) {
	gc := cfg.Sources.GitHub
	return &GitHub{
		client:        httpclient.NewFromConfig(githubName, cfg, logger, opts...),
		baseURL:       strings.TrimRight(gc.BaseURL, "/"),
		token:         strings.TrimSpace(gc.Token),
		fallbackRepos: append([]string(nil), gc.FallbackRepos...),
		logger:        logging.NewComponentLogger(logger, "sources").With(logging.String(logging.FieldSource, githubName)),
		licenses:      make(map[string]string),
	}, nil
}

// Name implements Source.
func (g *GitHub) Name() string { return githubName }

func (g *GitHub) header() http.Header {
	h := http.Header{"Accept": {"application/vnd.github.v3+json"}}
	if g.token != "" {
		h.Set("Authorization", "token "+g.token)
	}
	return h
}

// Search implements Source.
func (g *GitHub) Search(ctx context.Context, keywords []string, maxResults int) iter.Seq2[Candidate, error] {
	return singleUse(func(yield func(Candidate, error) bool) {
		col := newCollector(maxResults, yield, g.logger)
		terms := githubDefaultTerms
		if len(keywords) > 0 {
			terms = keywords
		}
		if g.token != "" && !g.codeSearch(ctx, col, terms) {
			return
		}
		g.walkFallback(ctx, col, keywords)
	})
}

// codeSearch pages through code search results. It returns true when the
// caller should fall back to walking repositories.
func (g *GitHub) codeSearch(ctx context.Context, col *collector, terms []string) bool {
	next := withQuery(g.baseURL+"/search/code", url.Values{
		"q":        {"extension:vrm " + strings.Join(terms, " ")},
		"per_page": {strconv.Itoa(min(col.remaining(), githubCodePageSize))},
	})
	first := true
	for next != "" && col.more() {
		resp, err := g.client.Get(ctx, next, g.header())
		if err != nil {
			if ctx.Err() != nil {
				col.fail(ctx.Err())
				return false
			}
			if !first {
				col.queryFailed("code search", err)
				return false
			}
			logging.WarnWithContext(g.logger, "code search unavailable", "github_code_search_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check GITHUB_TOKEN scopes"),
				logging.String(logging.FieldImpact, "walking sample repositories instead"),
			)
			return true
		}
		first = false
		items := gjson.GetBytes(resp.Body, "items").Array()
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			cand, ok := g.parseCodeResult(ctx, item)
			if !ok {
				continue
			}
			if !col.offer(cand) {
				return false
			}
		}
		next = parseNextLink(resp.Header.Get("Link"))
	}
	return false
}

func (g *GitHub) parseCodeResult(ctx context.Context, item gjson.Result) (Candidate, bool) {
	name := item.Get("name").String()
	if !strings.HasSuffix(strings.ToLower(name), ".vrm") {
		return Candidate{}, false
	}
	repo := item.Get("repository.full_name").String()
	path := item.Get("path").String()
	if repo == "" || path == "" {
		return Candidate{}, false
	}
	return Candidate{
		ItemID:       repo + "/" + path,
		DisplayName:  name,
		Artist:       item.Get("repository.owner.login").String(),
		SourceURL:    item.Get("html_url").String(),
		Downloadable: true,
		License:      g.license(ctx, repo),
		LicenseURL:   "https://github.com/" + repo + "/blob/main/LICENSE",
		DownloadURL:  githubRawBase + "/" + repo + "/main/" + path,
	}, true
}

// walkFallback walks the configured sample repositories, then the most
// starred repositories matching the keywords.
func (g *GitHub) walkFallback(ctx context.Context, col *collector, keywords []string) {
	walked := make(map[string]struct{})
	for _, repo := range g.fallbackRepos {
		if !col.more() {
			return
		}
		walked[repo] = struct{}{}
		if !g.walkRepo(ctx, col, repo) {
			return
		}
	}
	if !col.more() {
		return
	}

	terms := keywords
	if len(terms) == 0 {
		terms = []string{"vrm", "vroid", "avatar"}
	}
	resp, err := g.client.Get(ctx, withQuery(g.baseURL+"/search/repositories", url.Values{
		"q":        {strings.Join(terms, " ") + " vrm sample"},
		"per_page": {strconv.Itoa(min(col.remaining(), githubRepoPageSize))},
		"sort":     {"stars"},
	}), g.header())
	if err != nil {
		if ctx.Err() != nil {
			col.fail(ctx.Err())
			return
		}
		g.logger.Debug("repository search failed", logging.Error(err))
		return
	}
	for _, item := range gjson.GetBytes(resp.Body, "items").Array() {
		repo := item.Get("full_name").String()
		if _, done := walked[repo]; done || repo == "" {
			continue
		}
		walked[repo] = struct{}{}
		if !col.more() || !g.walkRepo(ctx, col, repo) {
			return
		}
	}
}

// walkRepo lists repository contents breadth-first to a fixed depth.
func (g *GitHub) walkRepo(ctx context.Context, col *collector, repo string) bool {
	type dir struct {
		path  string
		depth int
	}
	queue := []dir{{path: "", depth: 0}}
	for len(queue) > 0 && col.more() {
		current := queue[0]
		queue = queue[1:]

		endpoint := g.baseURL + "/repos/" + repo + "/contents"
		if current.path != "" {
			endpoint += "/" + escapePath(current.path)
		}
		resp, err := g.client.Get(ctx, endpoint, g.header())
		if err != nil {
			if ctx.Err() != nil {
				col.fail(ctx.Err())
				return false
			}
			g.logger.Debug("contents listing failed",
				logging.String("repo", repo),
				logging.String("path", current.path),
				logging.Error(err),
			)
			continue
		}
		listing := gjson.ParseBytes(resp.Body)
		if !listing.IsArray() {
			continue
		}
		for _, item := range listing.Array() {
			name := item.Get("name").String()
			switch item.Get("type").String() {
			case "file":
				if !strings.HasSuffix(strings.ToLower(name), ".vrm") {
					continue
				}
				if !col.offer(g.repoCandidate(ctx, repo, item)) {
					return false
				}
			case "dir":
				if _, skip := githubSkipDirs[strings.ToLower(name)]; skip || current.depth+1 >= githubWalkDepth {
					continue
				}
				queue = append(queue, dir{path: item.Get("path").String(), depth: current.depth + 1})
			}
		}
	}
	return col.more()
}

func (g *GitHub) repoCandidate(ctx context.Context, repo string, item gjson.Result) Candidate {
	name := item.Get("name").String()
	path := item.Get("path").String()
	if path == "" {
		path = name
	}
	owner, _, _ := strings.Cut(repo, "/")
	downloadURL := item.Get("download_url").String()
	return Candidate{
		ItemID:       repo + "/" + path,
		DisplayName:  name,
		Artist:       owner,
		SourceURL:    item.Get("html_url").String(),
		Downloadable: downloadURL != "",
		License:      g.license(ctx, repo),
		LicenseURL:   "https://github.com/" + repo + "/blob/main/LICENSE",
		DownloadURL:  downloadURL,
	}
}

// license returns the repository licence name, cached per repository.
func (g *GitHub) license(ctx context.Context, repo string) string {
	g.mu.Lock()
	name, ok := g.licenses[repo]
	g.mu.Unlock()
	if ok {
		return name
	}

	name = "Unknown"
	resp, err := g.client.Get(ctx, g.baseURL+"/repos/"+repo+"/license", g.header())
	if err == nil {
		if n := gjson.GetBytes(resp.Body, "license.name").String(); n != "" {
			name = n
		}
	}
	g.mu.Lock()
	g.licenses[repo] = name
	g.mu.Unlock()
	return name
}

// Download fetches the raw file.
func (g *GitHub) Download(ctx context.Context, c Candidate, destDir string) (string, error) {
	rawURL := c.DownloadURL
	if rawURL == "" {
		return "", services.Wrap(services.ErrDownload, githubName, "download", "no download URL for "+c.ItemID, nil)
	}
	if strings.Contains(rawURL, "github.com") && strings.Contains(rawURL, "/blob/") {
		rawURL = strings.Replace(rawURL, "github.com", "raw.githubusercontent.com", 1)
		rawURL = strings.Replace(rawURL, "/blob/", "/", 1)
	}

	name := "github_" + textutil.PathSegment(c.ItemID)
	if !strings.HasSuffix(strings.ToLower(name), ".vrm") {
		name += ".vrm"
	}
	dest := filepath.Join(destDir, name)
	if _, err := g.client.StreamToFile(ctx, rawURL, dest, g.header()); err != nil {
		return "", err
	}
	return dest, nil
}

func parseNextLink(header string) string {
	if m := linkNextPattern.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return ""
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
