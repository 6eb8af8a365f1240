package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/coff33ninja/vrm-auto-scraper/internal/fileutil"
)

// Export writes every entry as a JSON array, oldest first, so an import
// reproduces the original id order.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	entries, err := s.ListAll(ctx, ListFilter{})
	if err != nil {
		return 0, err
	}
	ordered := make([]*Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		ordered = append(ordered, entries[i])
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ordered); err != nil {
		return 0, fmt.Errorf("encode catalog: %w", err)
	}
	return len(ordered), nil
}

// ExportAll writes the catalog to path, replacing it atomically.
func (s *Store) ExportAll(ctx context.Context, path string) (int, error) {
	var count int
	err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		n, err := s.Export(ctx, w)
		count = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("export catalog to %s: %w", path, err)
	}
	return count, nil
}

// Import reads a JSON array of entries. Ids are reassigned and entries whose
// (source, source_item_id) already exist are skipped. It returns the number
// of entries added.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("decode catalog: %w", err)
	}
	imported := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		entry.ID = 0
		res, err := s.Add(ctx, entry)
		if err != nil {
			return imported, fmt.Errorf("import %s/%s: %w", entry.Source, entry.SourceItemID, err)
		}
		if res.Added {
			imported++
		}
	}
	return imported, nil
}

// ImportAll imports the catalog file at path.
func (s *Store) ImportAll(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	return s.Import(ctx, f)
}
