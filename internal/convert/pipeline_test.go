package convert

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/testsupport"
	"github.com/coff33ninja/vrm-auto-scraper/internal/triage"
)

func newTestPipeline(t *testing.T, cfg *config.Config, conv Converter) (*Pipeline, *catalog.Store, *triage.Triage) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	tri := triage.NewFromConfig(cfg, nil, logging.NewNop())
	if conv == nil {
		conv = NewChainFromConfig(cfg, logging.NewNop())
	}
	p, err := NewPipeline(store, tri, conv, cfg.Converter.TargetFormat, logging.NewNop())
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p, store, tri
}

func recordPending(t *testing.T, store *catalog.Store, source, itemID, rawPath string, status catalog.AttemptStatus) {
	t.Helper()
	ctx := context.Background()
	if err := store.RecordAttempt(ctx, source, itemID, "https://example.test/"+itemID, rawPath); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if status != catalog.StatusDownloaded {
		if err := store.AdvanceAttempt(ctx, source, itemID, status, ""); err != nil {
			t.Fatalf("AdvanceAttempt failed: %v", err)
		}
	}
}

func TestScanDirectorySortsModelFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	p, _, _ := newTestPipeline(t, cfg, &stubConverter{name: "stub"})
	dir := filepath.Join(t.TempDir(), "pack")
	for _, name := range []string{"a.vrm", "body.fbx", "done.obj", "done.vrm", "notes.txt", "weapons/sword.fbx"} {
		testsupport.WriteContent(t, filepath.Join(dir, filepath.FromSlash(name)), []byte("x"))
	}

	scan, err := p.ScanDirectory(context.Background(), dir, "")
	if err != nil {
		t.Fatalf("ScanDirectory failed: %v", err)
	}
	var vrms []string
	for _, path := range scan.VRMFiles {
		vrms = append(vrms, filepath.Base(path))
	}
	if strings.Join(vrms, ",") != "a.vrm,done.vrm" {
		t.Fatalf("vrm files = %v", vrms)
	}
	if len(scan.Convertible) != 1 || filepath.Base(scan.Convertible[0]) != "body.fbx" {
		t.Fatalf("convertible = %v", scan.Convertible)
	}
	if len(scan.Skipped) != 1 || scan.Skipped[0].Path != "weapons/sword.fbx" {
		t.Fatalf("skipped = %+v", scan.Skipped)
	}
}

func TestProcessPendingConvertsArchiveMembers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubScript("blender", blenderStub))
	p, store, tri := newTestPipeline(t, cfg, nil)
	ctx := context.Background()

	rawPath := filepath.Join(cfg.Paths.RawDir, "fake", "fake_pk1.zip")
	recordPending(t, store, "fake", "pk1", rawPath, catalog.StatusExtracted)
	if _, err := store.Add(ctx, catalog.Entry{
		Source:       "fake",
		SourceItemID: "pk1",
		DisplayName:  "Pack",
		Artist:       "maker",
		License:      "CC-BY",
		AcquiredAt:   time.Now(),
		FilePath:     rawPath,
		FileKind:     catalog.KindArchive,
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	extractDir := tri.ExtractionDir("fake", "pk1")
	testsupport.WriteContent(t, filepath.Join(extractDir, "model", "body.fbx"), []byte("fbx"))
	testsupport.WriteContent(t, filepath.Join(extractDir, "model", "tex.png"), []byte("png"))

	var progress []int
	res, err := p.ProcessPending(ctx, func(done, total int) { progress = append(progress, done, total) })
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if res.Attempts != 1 || res.Converted != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(progress) != 2 || progress[0] != 1 || progress[1] != 1 {
		t.Fatalf("progress = %v", progress)
	}

	entry, err := store.GetBySourceItem(ctx, "fake", "pk1_body")
	if err != nil {
		t.Fatalf("converted entry missing: %v", err)
	}
	if entry.FileKind != catalog.KindVRM || entry.OriginalFormat != "fbx" || entry.DisplayName != "Pack - body" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Artist != "maker" || entry.License != "CC-BY" || filepath.Base(entry.FilePath) != "body.vrm" {
		t.Fatalf("entry metadata = %+v", entry)
	}
	if from, _ := entry.Notes["from_archive"].(string); from != rawPath {
		t.Fatalf("notes = %v", entry.Notes)
	}
	attempt, err := store.GetAttempt(ctx, "fake", "pk1")
	if err != nil || attempt.Status != catalog.StatusConverted {
		t.Fatalf("attempt = %+v, %v", attempt, err)
	}

	again, err := p.ProcessPending(ctx, nil)
	if err != nil || again.Attempts != 0 {
		t.Fatalf("second run = %+v, %v", again, err)
	}
}

func TestProcessPendingMarksAllConversionsFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubScript("blender", "echo broken >&2\nexit 1"))
	p, store, _ := newTestPipeline(t, cfg, nil)
	ctx := context.Background()

	rawPath := filepath.Join(cfg.Paths.RawDir, "fake", "fake_x1.fbx")
	testsupport.WriteContent(t, rawPath, []byte("fbx"))
	recordPending(t, store, "fake", "x1", rawPath, catalog.StatusDownloaded)

	res, err := p.ProcessPending(ctx, nil)
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if res.Failed != 1 || res.Converted != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "Failed to convert fake_x1.fbx: ") {
		t.Fatalf("errors = %q", res.Errors)
	}
	attempt, err := store.GetAttempt(ctx, "fake", "x1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if attempt.Status != catalog.StatusFailed || attempt.Error != allFailedMessage {
		t.Fatalf("attempt = %+v", attempt)
	}
}

func TestProcessPendingUsesAttemptWhenUncataloged(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	p, store, _ := newTestPipeline(t, cfg, &stubConverter{name: "stub"})
	ctx := context.Background()

	rawPath := filepath.Join(cfg.Paths.RawDir, "fake", "fake_o1.obj")
	testsupport.WriteContent(t, rawPath, []byte("obj"))
	recordPending(t, store, "fake", "o1", rawPath, catalog.StatusDownloaded)

	res, err := p.ProcessPending(ctx, nil)
	if err != nil || res.Converted != 1 {
		t.Fatalf("result = %+v, %v", res, err)
	}
	entry, err := store.GetBySourceItem(ctx, "fake", "o1_fake_o1")
	if err != nil {
		t.Fatalf("converted entry missing: %v", err)
	}
	if entry.DisplayName != "o1 - fake_o1" || entry.SourceURL != "https://example.test/o1" {
		t.Fatalf("entry = %+v", entry)
	}
	if _, ok := entry.Notes["from_archive"]; ok {
		t.Fatalf("single file must not carry from_archive: %v", entry.Notes)
	}
}

func TestProcessPendingSkipsAttemptsWithoutInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	conv := &stubConverter{name: "stub"}
	p, store, _ := newTestPipeline(t, cfg, conv)
	ctx := context.Background()

	recordPending(t, store, "fake", "n1", filepath.Join(cfg.Paths.RawDir, "fake", "readme.txt"), catalog.StatusDownloaded)
	recordPending(t, store, "fake", "n2", filepath.Join(cfg.Paths.RawDir, "fake", "gone.zip"), catalog.StatusExtracted)

	res, err := p.ProcessPending(ctx, nil)
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if res.Skipped != 2 || conv.calls != 0 {
		t.Fatalf("result = %+v, calls = %d", res, conv.calls)
	}
	attempt, err := store.GetAttempt(ctx, "fake", "n2")
	if err != nil || attempt.Status != catalog.StatusExtracted {
		t.Fatalf("attempt = %+v, %v", attempt, err)
	}
}

func TestConvertFileRejectsUnsupportedInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	p, _, _ := newTestPipeline(t, cfg, &stubConverter{name: "stub"})
	if _, err := p.ConvertFile(context.Background(), "notes.txt"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestNewFromConfigOverridesFormat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tri := triage.NewFromConfig(cfg, nil, logging.NewNop())
	p, err := NewFromConfig(cfg, store, tri, "GLB", logging.NewNop())
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if p.Format() != "glb" {
		t.Fatalf("format = %q", p.Format())
	}
	if _, err := NewFromConfig(cfg, store, tri, "pmx", logging.NewNop()); err == nil {
		t.Fatal("expected format error")
	}
}
