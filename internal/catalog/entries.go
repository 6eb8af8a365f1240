package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const entryColumns = "id, source, source_item_id, display_name, artist, source_url, license, license_url, thumbnail_path, acquired_at, file_path, file_kind, original_format, size_bytes, notes_json"

// Add inserts entry. A duplicate (source, source_item_id) is reported through
// AddResult.Added=false and leaves the store unchanged; the unique constraint
// decides, so concurrent Exists+Add callers cannot both insert.
func (s *Store) Add(ctx context.Context, entry Entry) (AddResult, error) {
	if strings.TrimSpace(entry.Source) == "" || strings.TrimSpace(entry.SourceItemID) == "" {
		return AddResult{}, errors.New("add entry: source and source_item_id are required")
	}
	if entry.FileKind == "" {
		entry.FileKind = KindUnknown
	}
	notes, err := encodeNotes(entry.Notes)
	if err != nil {
		return AddResult{}, fmt.Errorf("encode notes: %w", err)
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO entries (
            source, source_item_id, display_name, artist, source_url, license, license_url,
            thumbnail_path, acquired_at, file_path, file_kind, original_format, size_bytes, notes_json
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (source, source_item_id) DO NOTHING`,
		entry.Source,
		entry.SourceItemID,
		entry.DisplayName,
		entry.Artist,
		entry.SourceURL,
		nullableString(entry.License),
		nullableString(entry.LicenseURL),
		nullableString(entry.ThumbnailPath),
		formatTime(entry.AcquiredAt),
		entry.FilePath,
		string(entry.FileKind),
		nullableString(entry.OriginalFormat),
		entry.SizeBytes,
		notes,
	)
	if err != nil {
		return AddResult{}, fmt.Errorf("insert entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return AddResult{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		id, err := s.entryID(ctx, entry.Source, entry.SourceItemID)
		if err != nil {
			return AddResult{}, err
		}
		return AddResult{ID: id, Added: false}, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AddResult{}, fmt.Errorf("last insert id: %w", err)
	}
	return AddResult{ID: id, Added: true}, nil
}

func (s *Store) entryID(ctx context.Context, source, itemID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM entries WHERE source = ? AND source_item_id = ?", source, itemID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup entry id: %w", err)
	}
	return id, nil
}

// Exists reports whether an entry for (source, itemID) is already catalogued.
func (s *Store) Exists(ctx context.Context, source, itemID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM entries WHERE source = ? AND source_item_id = ?", source, itemID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check entry: %w", err)
	}
	return count > 0, nil
}

// Get fetches one entry by id.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %d: %w", id, err)
	}
	return entry, nil
}

// GetBySourceItem fetches one entry by its natural key.
func (s *Store) GetBySourceItem(ctx context.Context, source, itemID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE source = ? AND source_item_id = ?", source, itemID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s/%s: %w", source, itemID, err)
	}
	return entry, nil
}

// ListAll returns entries most-recent-first, narrowed by filter.
func (s *Store) ListAll(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Kind != "" {
		clauses = append(clauses, "file_kind = ?")
		args = append(args, string(filter.Kind))
	}
	query := "SELECT " + entryColumns + " FROM entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Count returns the number of catalogued entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// Delete removes one entry. It reports false when no row matched.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Clear removes every entry and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM entries")
	if err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}
	return res.RowsAffected()
}

func encodeNotes(notes Notes) (any, error) {
	if len(notes) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(notes)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		entry          Entry
		kind           string
		license        sql.NullString
		licenseURL     sql.NullString
		thumbnailPath  sql.NullString
		acquiredRaw    string
		originalFormat sql.NullString
		notesRaw       sql.NullString
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.Source,
		&entry.SourceItemID,
		&entry.DisplayName,
		&entry.Artist,
		&entry.SourceURL,
		&license,
		&licenseURL,
		&thumbnailPath,
		&acquiredRaw,
		&entry.FilePath,
		&kind,
		&originalFormat,
		&entry.SizeBytes,
		&notesRaw,
	); err != nil {
		return nil, err
	}
	entry.FileKind = Kind(kind)
	entry.License = license.String
	entry.LicenseURL = licenseURL.String
	entry.ThumbnailPath = thumbnailPath.String
	entry.OriginalFormat = originalFormat.String
	if acquired, err := parseTimeString(acquiredRaw); err == nil {
		entry.AcquiredAt = acquired
	}
	if notesRaw.Valid && notesRaw.String != "" {
		if err := json.Unmarshal([]byte(notesRaw.String), &entry.Notes); err != nil {
			return nil, fmt.Errorf("decode notes for entry %d: %w", entry.ID, err)
		}
	}
	return &entry, nil
}
