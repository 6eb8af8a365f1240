package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LookupClassification returns a cached classifier result for path when the
// recorded modification time and size still match.
func (s *Store) LookupClassification(ctx context.Context, path string, modTime time.Time, size int64) ([]byte, bool, error) {
	var (
		storedMod  string
		storedSize int64
		result     string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT mod_time, size_bytes, result_json FROM classification_cache WHERE path = ?", path,
	).Scan(&storedMod, &storedSize, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup classification: %w", err)
	}
	if storedSize != size || storedMod != formatTime(modTime) {
		return nil, false, nil
	}
	return []byte(result), true, nil
}

// StoreClassification caches a classifier result for path.
func (s *Store) StoreClassification(ctx context.Context, path string, modTime time.Time, size int64, data []byte) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO classification_cache (path, mod_time, size_bytes, result_json, classified_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (path) DO UPDATE SET
            mod_time = excluded.mod_time,
            size_bytes = excluded.size_bytes,
            result_json = excluded.result_json,
            classified_at = excluded.classified_at`,
		path, formatTime(modTime), size, string(data), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store classification: %w", err)
	}
	return nil
}

// ClearClassifications drops the classifier cache.
func (s *Store) ClearClassifications(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM classification_cache")
	if err != nil {
		return 0, fmt.Errorf("clear classifications: %w", err)
	}
	return res.RowsAffected()
}
