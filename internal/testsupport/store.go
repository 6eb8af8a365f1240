package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AddEntry inserts a minimal VRM entry and returns its id.
func AddEntry(t testing.TB, store *catalog.Store, source, itemID string) int64 {
	t.Helper()

	res, err := store.Add(context.Background(), catalog.Entry{
		Source:       source,
		SourceItemID: itemID,
		DisplayName:  "Model " + itemID,
		Artist:       "tester",
		SourceURL:    "https://example.test/" + source + "/" + itemID,
		AcquiredAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FilePath:     "/data/" + source + "/" + itemID + ".vrm",
		FileKind:     catalog.KindVRM,
		SizeBytes:    1024,
	})
	if err != nil {
		t.Fatalf("store.Add: %v", err)
	}
	if !res.Added {
		t.Fatalf("store.Add: %s/%s already present", source, itemID)
	}
	return res.ID
}
