package crawler_test

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/crawler"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/sources"
	"github.com/coff33ninja/vrm-auto-scraper/internal/testsupport"
	"github.com/coff33ninja/vrm-auto-scraper/internal/triage"
)

// fakeSource serves a fixed candidate list. Downloads write "glTF" into
// <id>.vrm unless the item has a custom payload.
type fakeSource struct {
	name      string
	items     []sources.Candidate
	payloads  map[string]func(ctx context.Context, destDir string) (string, error)
	searchErr error

	mu        sync.Mutex
	downloads map[string]int
}

func newFakeSource(name string, ids ...string) *fakeSource {
	src := &fakeSource{
		name:      name,
		payloads:  make(map[string]func(context.Context, string) (string, error)),
		downloads: make(map[string]int),
	}
	for _, id := range ids {
		src.items = append(src.items, candidate(name, id))
	}
	return src
}

func candidate(source, id string) sources.Candidate {
	return sources.Candidate{
		ItemID:       id,
		DisplayName:  "Avatar " + id,
		Artist:       "artist",
		SourceURL:    "https://example.test/" + source + "/" + id,
		Downloadable: true,
		License:      "CC-BY",
	}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(_ context.Context, _ []string, maxResults int) iter.Seq2[sources.Candidate, error] {
	return func(yield func(sources.Candidate, error) bool) {
		for i, cand := range f.items {
			if i >= maxResults {
				return
			}
			if !yield(cand, nil) {
				return
			}
		}
		if f.searchErr != nil {
			yield(sources.Candidate{}, f.searchErr)
		}
	}
}

func (f *fakeSource) Download(ctx context.Context, c sources.Candidate, destDir string) (string, error) {
	f.mu.Lock()
	f.downloads[c.ItemID]++
	payload := f.payloads[c.ItemID]
	f.mu.Unlock()
	if payload != nil {
		return payload(ctx, destDir)
	}
	dest := filepath.Join(destDir, f.name+"_"+c.ItemID+".vrm")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	return dest, os.WriteFile(dest, []byte("glTF"), 0o644)
}

func (f *fakeSource) downloadCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[id]
}

func failingPayload(msg string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) {
		return "", errors.New(msg)
	}
}

func newCrawler(t *testing.T, cfg *config.Config, srcs ...sources.Source) (*crawler.Crawler, *catalog.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	tri := triage.NewFromConfig(cfg, nil, logging.NewNop())
	c, err := crawler.New(cfg, store, srcs, tri, logging.NewNop())
	if err != nil {
		t.Fatalf("crawler.New failed: %v", err)
	}
	return c, store
}

func baseOptions() crawler.Options {
	return crawler.Options{
		MaxPerSource:      10,
		SkipExisting:      true,
		SkipAttempted:     true,
		ConcurrentSources: 1,
	}
}

func TestCrawlIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	src := newFakeSource("fake", "a1", "a2", "a3")
	c, store := newCrawler(t, cfg, src)
	ctx := context.Background()

	first, err := c.Crawl(ctx, baseOptions())
	if err != nil {
		t.Fatalf("first crawl failed: %v", err)
	}
	if first.Downloaded != 3 || first.Skipped != 0 || first.Failed != 0 {
		t.Fatalf("first crawl = %s", first)
	}
	countAfterFirst, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	second, err := c.Crawl(ctx, baseOptions())
	if err != nil {
		t.Fatalf("second crawl failed: %v", err)
	}
	if second.Downloaded != 0 || second.Skipped != 3 {
		t.Fatalf("second crawl = %s", second)
	}
	countAfterSecond, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if countAfterFirst != 3 || countAfterSecond != countAfterFirst {
		t.Fatalf("catalog count %d then %d", countAfterFirst, countAfterSecond)
	}
	if src.downloadCount("a1") != 1 {
		t.Fatalf("a1 downloaded %d times", src.downloadCount("a1"))
	}

	attempt, err := store.GetAttempt(ctx, "fake", "a1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if attempt.Status != catalog.StatusConverted {
		t.Fatalf("attempt status = %s", attempt.Status)
	}
	if first.BySource["fake"].Downloaded != 3 {
		t.Fatalf("per-source counts = %+v", first.BySource)
	}
}

func TestCrawlSkipsAttemptedWithoutCatalogEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	src := newFakeSource("fake", "a1")
	c, store := newCrawler(t, cfg, src)
	ctx := context.Background()
	if err := store.RecordAttempt(ctx, "fake", "a1", "", ""); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}

	res, err := c.Crawl(ctx, baseOptions())
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if res.Skipped != 1 || src.downloadCount("a1") != 0 {
		t.Fatalf("result = %s, downloads = %d", res, src.downloadCount("a1"))
	}

	opts := baseOptions()
	opts.SkipAttempted = false
	res, err = c.Crawl(ctx, opts)
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if res.Downloaded != 1 {
		t.Fatalf("forced crawl = %s", res)
	}
}

func TestCrawlIsolatesFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	src := newFakeSource("fake", "a1", "a2", "a3", "a4")
	src.payloads["a2"] = failingPayload("connection reset")
	src.payloads["a4"] = failingPayload("404 not found")
	c, store := newCrawler(t, cfg, src)
	ctx := context.Background()

	res, err := c.Crawl(ctx, baseOptions())
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if res.Downloaded != 2 || res.Failed != 2 || res.Downloaded+res.Failed != 4 {
		t.Fatalf("result = %s", res)
	}
	if len(res.Errors) != 2 || !strings.HasPrefix(res.Errors[0], "Failed to download Avatar a2: ") {
		t.Fatalf("errors = %q", res.Errors)
	}
	for _, id := range []string{"a1", "a3"} {
		if ok, err := store.Exists(ctx, "fake", id); err != nil || !ok {
			t.Fatalf("%s missing from catalog: %v", id, err)
		}
	}
	attempt, err := store.GetAttempt(ctx, "fake", "a2")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if attempt.Status != catalog.StatusFailed || attempt.Error != "connection reset" {
		t.Fatalf("attempt = %+v", attempt)
	}
}

func TestCrawlRetriesFailedAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	src := newFakeSource("fake", "a1")
	src.payloads["a1"] = failingPayload("timeout")
	c, store := newCrawler(t, cfg, src)
	ctx := context.Background()

	if res, _ := c.Crawl(ctx, baseOptions()); res.Failed != 1 {
		t.Fatalf("first crawl = %s", res)
	}
	delete(src.payloads, "a1")

	if res, _ := c.Crawl(ctx, baseOptions()); res.Skipped != 1 {
		t.Fatalf("crawl without retry = %s", res)
	}

	opts := baseOptions()
	opts.RetryFailed = true
	res, err := c.Crawl(ctx, opts)
	if err != nil {
		t.Fatalf("retry crawl failed: %v", err)
	}
	if res.Downloaded != 1 {
		t.Fatalf("retry crawl = %s", res)
	}
	attempt, err := store.GetAttempt(ctx, "fake", "a1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if attempt.Status != catalog.StatusConverted || attempt.Error != "" {
		t.Fatalf("attempt = %+v", attempt)
	}
}

func TestCrawlArchiveCreatesExtraEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	src := newFakeSource("fake", "z1")
	src.payloads["z1"] = func(_ context.Context, destDir string) (string, error) {
		dest := filepath.Join(destDir, "fake_z1.zip")
		testsupport.WriteZip(t, dest, map[string][]byte{
			"girl/a.vrm": []byte("glTF-a"),
			"girl/b.vrm": []byte("glTF-bb"),
			"README.txt": []byte("thanks"),
		})
		return dest, nil
	}
	c, store := newCrawler(t, cfg, src)
	ctx := context.Background()

	res, err := c.Crawl(ctx, baseOptions())
	if err != nil || res.Downloaded != 1 {
		t.Fatalf("crawl = %s, %v", res, err)
	}

	primary, err := store.GetBySourceItem(ctx, "fake", "z1")
	if err != nil {
		t.Fatalf("primary entry missing: %v", err)
	}
	if primary.FileKind != catalog.KindVRM || filepath.Base(primary.FilePath) != "a.vrm" || primary.OriginalFormat != "zip" {
		t.Fatalf("primary = %+v", primary)
	}
	extra, err := store.GetBySourceItem(ctx, "fake", "z1_extra_1")
	if err != nil {
		t.Fatalf("extra entry missing: %v", err)
	}
	if extra.DisplayName != "Avatar z1 (b.vrm)" || extra.SizeBytes != int64(len("glTF-bb")) {
		t.Fatalf("extra = %+v", extra)
	}
	if from, _ := extra.Notes["from_archive"].(string); filepath.Base(from) != "fake_z1.zip" {
		t.Fatalf("extra notes = %v", extra.Notes)
	}
	attempt, err := store.GetAttempt(ctx, "fake", "z1")
	if err != nil || attempt.Status != catalog.StatusConverted {
		t.Fatalf("attempt = %+v, %v", attempt, err)
	}
	if filepath.Base(attempt.RawPath) != "fake_z1.zip" {
		t.Fatalf("raw path = %q", attempt.RawPath)
	}
}

func TestCrawlExtractionFailureMarksAttemptFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	src := newFakeSource("fake", "r1")
	src.payloads["r1"] = func(_ context.Context, destDir string) (string, error) {
		dest := filepath.Join(destDir, "fake_r1.rar")
		testsupport.WriteContent(t, dest, []byte("Rar!\x1a\x07\x00 not really"))
		return dest, nil
	}
	c, store := newCrawler(t, cfg, src)
	ctx := context.Background()

	res, err := c.Crawl(ctx, baseOptions())
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if res.Failed != 1 || res.Downloaded != 0 {
		t.Fatalf("result = %s", res)
	}
	if ok, _ := store.Exists(ctx, "fake", "r1"); ok {
		t.Fatal("failed extraction must not create an entry")
	}
	attempt, err := store.GetAttempt(ctx, "fake", "r1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if attempt.Status != catalog.StatusFailed || !strings.Contains(attempt.Error, "7-Zip") {
		t.Fatalf("attempt = %+v", attempt)
	}
}

func TestCrawlSourceFailureDoesNotStopOthers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	broken := newFakeSource("broken")
	broken.searchErr = errors.New("401 unauthorized")
	healthy := newFakeSource("healthy", "h1", "h2")
	c, _ := newCrawler(t, cfg, broken, healthy)

	opts := baseOptions()
	opts.ConcurrentSources = 2
	res, err := c.Crawl(context.Background(), opts)
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if res.Downloaded != 2 {
		t.Fatalf("result = %s", res)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "Error crawling broken: 401 unauthorized" {
		t.Fatalf("errors = %q", res.Errors)
	}
}

func TestCrawlRejectsConcurrentRun(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	c, _ := newCrawler(t, cfg, newFakeSource("fake", "a1"))
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	held := flock.New(filepath.Join(cfg.Paths.DataDir, "crawl.lock"))
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer held.Unlock()

	if _, err := c.Crawl(context.Background(), baseOptions()); !errors.Is(err, crawler.ErrCrawlInProgress) {
		t.Fatalf("expected ErrCrawlInProgress, got %v", err)
	}
}

func TestCrawlFetchesThumbnails(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	src := newFakeSource("fake", "t1", "t2")
	src.items[0].ThumbnailURL = srv.URL + "/preview"
	src.items[1].ThumbnailURL = srv.URL + "/missing"
	c, store := newCrawler(t, cfg, src)
	ctx := context.Background()

	opts := baseOptions()
	opts.FetchThumbnails = true
	res, err := c.Crawl(ctx, opts)
	if err != nil || res.Downloaded != 2 {
		t.Fatalf("crawl = %s, %v", res, err)
	}

	withThumb, err := store.GetBySourceItem(ctx, "fake", "t1")
	if err != nil {
		t.Fatalf("GetBySourceItem failed: %v", err)
	}
	if filepath.Ext(withThumb.ThumbnailPath) != ".png" {
		t.Fatalf("thumbnail path = %q", withThumb.ThumbnailPath)
	}
	if _, err := os.Stat(withThumb.ThumbnailPath); err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}
	withoutThumb, err := store.GetBySourceItem(ctx, "fake", "t2")
	if err != nil {
		t.Fatalf("GetBySourceItem failed: %v", err)
	}
	if withoutThumb.ThumbnailPath != "" {
		t.Fatalf("thumbnail path = %q, want empty", withoutThumb.ThumbnailPath)
	}
}

func TestCrawlCancelledDownloadIsNotSuccessful(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	src := newFakeSource("fake", "c1", "c2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.payloads["c1"] = func(ctx context.Context, _ string) (string, error) {
		cancel()
		return "", ctx.Err()
	}
	c, store := newCrawler(t, cfg, src)

	res, err := c.Crawl(ctx, baseOptions())
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if res.Downloaded != 0 || src.downloadCount("c2") != 0 {
		t.Fatalf("result = %s, c2 downloads = %d", res, src.downloadCount("c2"))
	}
	attempt, err := store.GetAttempt(context.Background(), "fake", "c1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if attempt.Status != catalog.StatusFailed || attempt.Error != "cancelled" {
		t.Fatalf("attempt = %+v", attempt)
	}
}

func TestRunContinuousStopsAtMaxTotal(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	src := newFakeSource("fake", "m1", "m2", "m3", "m4")
	c, _ := newCrawler(t, cfg, src)

	var batches []crawler.Result
	totals, err := c.RunContinuous(context.Background(), crawler.ContinuousOptions{
		Crawl:     baseOptions(),
		BatchSize: 5,
		Interval:  time.Hour,
		MaxTotal:  2,
	}, func(_ int, result crawler.Result, _ crawler.Totals) {
		batches = append(batches, result)
	})
	if err != nil {
		t.Fatalf("RunContinuous failed: %v", err)
	}
	if totals.Batches != 1 || totals.Downloaded != 2 || len(batches) != 1 {
		t.Fatalf("totals = %+v", totals)
	}
	if src.downloadCount("m3") != 0 {
		t.Fatal("batch exceeded the remaining quota")
	}
}

func TestRunContinuousStopsWhenCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	c, _ := newCrawler(t, cfg, newFakeSource("fake", "n1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var totals crawler.Totals
	var runErr error
	go func() {
		defer close(done)
		totals, runErr = c.RunContinuous(ctx, crawler.ContinuousOptions{
			Crawl:     baseOptions(),
			BatchSize: 5,
			Schedule:  "0 0 1 1 *",
		}, func(int, crawler.Result, crawler.Totals) {})
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunContinuous did not stop after cancellation")
	}
	if runErr != nil {
		t.Fatalf("RunContinuous failed: %v", runErr)
	}
	if totals.Batches != 1 || totals.Downloaded != 1 {
		t.Fatalf("totals = %+v", totals)
	}
}

func TestRunContinuousRejectsBadSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBinaries())
	c, _ := newCrawler(t, cfg)
	_, err := c.RunContinuous(context.Background(), crawler.ContinuousOptions{
		Crawl:     baseOptions(),
		BatchSize: 5,
		Schedule:  "not a schedule",
	}, nil)
	if err == nil {
		t.Fatal("expected schedule error")
	}
}
