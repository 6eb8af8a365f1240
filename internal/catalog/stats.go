package catalog

import (
	"context"
	"fmt"
)

// Stats aggregates entry and attempt counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		BySource: make(map[string]int),
		ByKind:   make(map[Kind]int),
		Attempts: make(map[AttemptStatus]int),
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1), COALESCE(SUM(size_bytes), 0) FROM entries",
	).Scan(&stats.Total, &stats.TotalBytes); err != nil {
		return Stats{}, fmt.Errorf("entry totals: %w", err)
	}

	if err := s.countInto(ctx, "SELECT source, COUNT(1) FROM entries GROUP BY source", func(key string, n int) {
		stats.BySource[key] = n
	}); err != nil {
		return Stats{}, err
	}
	if err := s.countInto(ctx, "SELECT file_kind, COUNT(1) FROM entries GROUP BY file_kind", func(key string, n int) {
		stats.ByKind[Kind(key)] = n
	}); err != nil {
		return Stats{}, err
	}
	if err := s.countInto(ctx, "SELECT status, COUNT(1) FROM attempts GROUP BY status", func(key string, n int) {
		stats.Attempts[AttemptStatus(key)] = n
	}); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (s *Store) countInto(ctx context.Context, query string, set func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("stats query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan stats: %w", err)
		}
		set(key, count)
	}
	return rows.Err()
}
