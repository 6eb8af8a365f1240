package sources_test

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
	"github.com/coff33ninja/vrm-auto-scraper/internal/sources"
	"github.com/coff33ninja/vrm-auto-scraper/internal/testsupport"
)

func collect(t *testing.T, seq iter.Seq2[sources.Candidate, error]) ([]sources.Candidate, error) {
	t.Helper()
	var out []sources.Candidate
	for cand, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, cand)
	}
	return out, nil
}

func ids(cands []sources.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.ItemID)
	}
	return out
}

func TestBuildSkipsUnconfiguredSources(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Sources.Sketchfab.APIToken = "sk-token"

	built, errs := sources.Build(cfg, logging.NewNop())
	names := sources.Names(built)
	if len(names) != 2 || names[0] != "sketchfab" || names[1] != "github" {
		t.Fatalf("built = %v, want [sketchfab github]", names)
	}
	if len(errs) != 2 {
		t.Fatalf("errs = %v, want 2", errs)
	}
	for _, err := range errs {
		if !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("expected configuration error, got %v", err)
		}
	}
}

func TestBuildReportsUnknownSource(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSources("github", "myspace"))
	built, errs := sources.Build(cfg, logging.NewNop())
	if len(built) != 1 || len(errs) != 1 {
		t.Fatalf("built=%v errs=%v", sources.Names(built), errs)
	}
}

func TestSearchSequenceIsSingleUse(t *testing.T) {
	srv := newSketchfabServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Sources.Sketchfab.APIToken = "sk-token"
	cfg.Sources.Sketchfab.BaseURL = srv.URL + "/v3"
	src, err := sources.NewSketchfab(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewSketchfab failed: %v", err)
	}

	seq := src.Search(context.Background(), []string{"miku"}, 1)
	first, err := collect(t, seq)
	if err != nil || len(first) != 1 {
		t.Fatalf("first iteration = %v, %v", ids(first), err)
	}
	if _, err := collect(t, seq); !errors.Is(err, sources.ErrSequenceConsumed) {
		t.Fatalf("second iteration error = %v, want ErrSequenceConsumed", err)
	}
}

func TestSearchStopsWhenConsumerBreaks(t *testing.T) {
	srv := newSketchfabServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Sources.Sketchfab.APIToken = "sk-token"
	cfg.Sources.Sketchfab.BaseURL = srv.URL + "/v3"
	src, err := sources.NewSketchfab(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewSketchfab failed: %v", err)
	}
	count := 0
	for _, err := range src.Search(context.Background(), []string{"miku"}, 10) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
		break
	}
	if count != 1 {
		t.Fatalf("count = %d", count)
	}
}

func TestTokensExpiry(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/tokens.json"
	want := sources.Tokens{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1700000000}
	if err := sources.SaveTokens(path, want); err != nil {
		t.Fatalf("SaveTokens failed: %v", err)
	}
	got, err := sources.LoadTokens(path)
	if err != nil {
		t.Fatalf("LoadTokens failed: %v", err)
	}
	if got != want {
		t.Fatalf("tokens = %+v, want %+v", got, want)
	}
	if (sources.Tokens{AccessToken: "a"}).Expired(timeAt(2000000000)) {
		t.Fatal("tokens without expiry should never expire")
	}
	if !got.Expired(timeAt(1700000000 - 30)) {
		t.Fatal("token inside the refresh window should be expired")
	}
	if got.Expired(timeAt(1700000000 - 600)) {
		t.Fatal("token well before expiry should be valid")
	}
}
