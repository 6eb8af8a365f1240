package sources_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/sources"
	"github.com/coff33ninja/vrm-auto-scraper/internal/testsupport"
)

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (h *hitCounter) add(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hits == nil {
		h.hits = make(map[string]int)
	}
	h.hits[path]++
}

func (h *hitCounter) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func contentsEntry(srvURL, kind, path string) map[string]any {
	entry := map[string]any{
		"name":     filepath.Base(path),
		"path":     path,
		"type":     kind,
		"html_url": "https://github.com/owner/samples/blob/main/" + path,
	}
	if kind == "file" {
		entry["download_url"] = srvURL + "/raw/" + path
	}
	return entry
}

// newGitHubServer serves a sample repository tree, a license and a repository
// search that points back at the same repository.
func newGitHubServer(t *testing.T, codeSearch http.HandlerFunc) (*httptest.Server, *hitCounter) {
	t.Helper()
	hits := &hitCounter{}
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		switch r.URL.Path {
		case "/search/code":
			if codeSearch == nil {
				http.NotFound(w, r)
				return
			}
			codeSearch(w, r)
		case "/repos/owner/samples/contents":
			writeJSON(t, w, []any{
				contentsEntry(srv.URL, "file", "first.vrm"),
				contentsEntry(srv.URL, "file", "README.md"),
				contentsEntry(srv.URL, "dir", "models"),
				contentsEntry(srv.URL, "dir", "node_modules"),
			})
		case "/repos/owner/samples/contents/models":
			writeJSON(t, w, []any{
				contentsEntry(srv.URL, "file", "models/second.VRM"),
				contentsEntry(srv.URL, "dir", "models/deep"),
			})
		case "/repos/owner/samples/contents/models/deep":
			writeJSON(t, w, []any{
				contentsEntry(srv.URL, "dir", "models/deep/deeper"),
			})
		case "/repos/owner/samples/license":
			writeJSON(t, w, map[string]any{"license": map[string]any{"name": "MIT License"}})
		case "/search/repositories":
			writeJSON(t, w, map[string]any{"items": []any{map[string]any{"full_name": "owner/samples"}}})
		case "/raw/first.vrm":
			_, _ = w.Write([]byte("glTF-first"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func TestGitHubFallbackWalksSampleRepos(t *testing.T) {
	srv, hits := newGitHubServer(t, nil)
	cfg := testsupport.NewConfig(t)
	cfg.Sources.GitHub.BaseURL = srv.URL
	cfg.Sources.GitHub.FallbackRepos = []string{"owner/samples"}

	src, err := sources.NewGitHub(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewGitHub failed: %v", err)
	}
	got, err := collect(t, src.Search(context.Background(), nil, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 2 || got[0].ItemID != "owner/samples/first.vrm" || got[1].ItemID != "owner/samples/models/second.VRM" {
		t.Fatalf("candidates = %v", ids(got))
	}
	if got[0].Artist != "owner" || got[0].License != "MIT License" {
		t.Fatalf("unexpected candidate %+v", got[0])
	}
	if hits.get("/repos/owner/samples/license") != 1 {
		t.Fatalf("license fetched %d times, want 1", hits.get("/repos/owner/samples/license"))
	}
	if hits.get("/repos/owner/samples/contents") != 1 {
		t.Fatalf("repository walked %d times, want 1", hits.get("/repos/owner/samples/contents"))
	}
	if hits.get("/repos/owner/samples/contents/models/deep/deeper") != 0 {
		t.Fatal("walk exceeded depth limit")
	}
	if hits.get("/repos/owner/samples/contents/node_modules") != 0 {
		t.Fatal("walk entered a skipped directory")
	}
}

func TestGitHubCodeSearchPagesWithLinkHeader(t *testing.T) {
	var srvURL string
	codeSearch := func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token gh-token" {
			t.Errorf("Authorization = %q", got)
		}
		firstPage := r.URL.Query().Get("page") == ""
		if q := r.URL.Query().Get("q"); firstPage && (!strings.HasPrefix(q, "extension:vrm ") || !strings.Contains(q, "avatar")) {
			t.Errorf("q = %q", q)
		}
		item := func(repo, path string) map[string]any {
			return map[string]any{
				"name":       filepath.Base(path),
				"path":       path,
				"html_url":   "https://github.com/" + repo + "/blob/main/" + path,
				"repository": map[string]any{"full_name": repo, "owner": map[string]any{"login": strings.Split(repo, "/")[0]}},
			}
		}
		if firstPage {
			w.Header().Set("Link", `<`+srvURL+`/search/code?page=2&q=x>; rel="next", <`+srvURL+`/search/code?page=2&q=x>; rel="last"`)
			writeJSON(t, w, map[string]any{"items": []any{item("o/r", "a/one.vrm"), item("o/r", "notes.txt")}})
			return
		}
		writeJSON(t, w, map[string]any{"items": []any{item("o/r", "two.vrm")}})
	}
	srv, hits := newGitHubServer(t, codeSearch)
	srvURL = srv.URL

	cfg := testsupport.NewConfig(t)
	cfg.Sources.GitHub.BaseURL = srv.URL
	cfg.Sources.GitHub.Token = "gh-token"
	cfg.Sources.GitHub.FallbackRepos = nil

	src, err := sources.NewGitHub(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewGitHub failed: %v", err)
	}
	got, err := collect(t, src.Search(context.Background(), []string{"avatar"}, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 2 || got[0].ItemID != "o/r/a/one.vrm" || got[1].ItemID != "o/r/two.vrm" {
		t.Fatalf("candidates = %v", ids(got))
	}
	if got[0].DownloadURL != "https://raw.githubusercontent.com/o/r/main/a/one.vrm" {
		t.Fatalf("download url = %q", got[0].DownloadURL)
	}
	if got[0].License != "Unknown" {
		t.Fatalf("license = %q", got[0].License)
	}
	if hits.get("/repos/owner/samples/contents") != 0 {
		t.Fatal("code search results should not trigger the fallback walk")
	}
}

func TestGitHubCodeSearchFailureFallsBack(t *testing.T) {
	codeSearch := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	srv, _ := newGitHubServer(t, codeSearch)
	cfg := testsupport.NewConfig(t)
	cfg.Sources.GitHub.BaseURL = srv.URL
	cfg.Sources.GitHub.Token = "gh-token"
	cfg.Sources.GitHub.FallbackRepos = []string{"owner/samples"}

	src, err := sources.NewGitHub(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewGitHub failed: %v", err)
	}
	got, err := collect(t, src.Search(context.Background(), nil, 1))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 || got[0].ItemID != "owner/samples/first.vrm" {
		t.Fatalf("candidates = %v", ids(got))
	}
}

func TestGitHubDownloadWritesVRM(t *testing.T) {
	srv, _ := newGitHubServer(t, nil)
	cfg := testsupport.NewConfig(t)
	cfg.Sources.GitHub.BaseURL = srv.URL

	src, err := sources.NewGitHub(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewGitHub failed: %v", err)
	}
	path, err := src.Download(context.Background(), sources.Candidate{
		ItemID:      "owner/samples/first.vrm",
		DownloadURL: srv.URL + "/raw/first.vrm",
	}, cfg.Paths.RawDir)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if filepath.Base(path) != "github_owner_samples_first.vrm" {
		t.Fatalf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "glTF-first" {
		t.Fatalf("content = %q, %v", data, err)
	}

	if _, err := src.Download(context.Background(), sources.Candidate{ItemID: "owner/samples/none.vrm"}, cfg.Paths.RawDir); err == nil {
		t.Fatal("expected error without a download URL")
	}
}
