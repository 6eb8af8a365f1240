package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStatusRegression is returned when an attempt would move backwards in its lifecycle.
var ErrStatusRegression = errors.New("catalog: attempt status regression")

const attemptColumns = "source, source_item_id, source_url, downloaded_at, updated_at, raw_path, status, error"

// RecordAttempt registers a download for (source, itemID). An existing failed
// attempt is reset to downloaded; any other existing status is kept so a
// re-download never rewinds progress.
func (s *Store) RecordAttempt(ctx context.Context, source, itemID, sourceURL, rawPath string) error {
	if strings.TrimSpace(source) == "" || strings.TrimSpace(itemID) == "" {
		return errors.New("record attempt: source and item id are required")
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO attempts (source, source_item_id, source_url, downloaded_at, updated_at, raw_path, status, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
        ON CONFLICT (source, source_item_id) DO UPDATE SET
            source_url = excluded.source_url,
            raw_path = COALESCE(excluded.raw_path, attempts.raw_path),
            downloaded_at = excluded.downloaded_at,
            updated_at = excluded.updated_at,
            error = CASE WHEN attempts.status = 'failed' THEN NULL ELSE attempts.error END,
            status = CASE WHEN attempts.status = 'failed' THEN excluded.status ELSE attempts.status END`,
		source,
		itemID,
		sourceURL,
		now,
		now,
		nullableString(rawPath),
		string(StatusDownloaded),
	)
	if err != nil {
		return fmt.Errorf("record attempt %s/%s: %w", source, itemID, err)
	}
	return nil
}

// SetAttemptRawPath updates the raw file location once a download lands.
func (s *Store) SetAttemptRawPath(ctx context.Context, source, itemID, rawPath string) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE attempts SET raw_path = ?, updated_at = ? WHERE source = ? AND source_item_id = ?",
		nullableString(rawPath), formatTime(time.Now()), source, itemID,
	)
	if err != nil {
		return fmt.Errorf("set attempt raw path: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceAttempt moves an attempt to status. Non-failed statuses only move
// forward (downloaded < extracted < converted); failed is reachable from any
// non-failed state. errMsg is stored for failed transitions and cleared otherwise.
func (s *Store) AdvanceAttempt(ctx context.Context, source, itemID string, status AttemptStatus, errMsg string) error {
	if status.rank() == 0 && status != StatusFailed {
		return fmt.Errorf("advance attempt: unknown status %q", status)
	}
	var errValue any
	if status == StatusFailed {
		errValue = nullableString(errMsg)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE attempts SET status = ?, error = ?, updated_at = ?
        WHERE source = ? AND source_item_id = ?
          AND (
            (? = 'failed' AND status != 'failed')
            OR (status != 'failed' AND
                (CASE status WHEN 'downloaded' THEN 1 WHEN 'extracted' THEN 2 WHEN 'converted' THEN 3 ELSE 0 END) <= ?)
          )`,
		string(status),
		errValue,
		formatTime(time.Now()),
		source,
		itemID,
		string(status),
		status.rank(),
	)
	if err != nil {
		return fmt.Errorf("advance attempt %s/%s: %w", source, itemID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	current, err := s.GetAttempt(ctx, source, itemID)
	if err != nil {
		return err
	}
	if current.Status == StatusFailed && status == StatusFailed {
		// Refresh the error text on repeated failures.
		_, err := s.execWithRetry(ctx,
			"UPDATE attempts SET error = ?, updated_at = ? WHERE source = ? AND source_item_id = ?",
			nullableString(errMsg), formatTime(time.Now()), source, itemID)
		return err
	}
	return fmt.Errorf("%w: %s/%s is %s, cannot move to %s", ErrStatusRegression, source, itemID, current.Status, status)
}

// GetAttempt returns the attempt for (source, itemID).
func (s *Store) GetAttempt(ctx context.Context, source, itemID string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+attemptColumns+" FROM attempts WHERE source = ? AND source_item_id = ?", source, itemID)
	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt %s/%s: %w", source, itemID, err)
	}
	return attempt, nil
}

// AttemptExists reports whether any attempt was recorded for (source, itemID).
func (s *Store) AttemptExists(ctx context.Context, source, itemID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM attempts WHERE source = ? AND source_item_id = ?", source, itemID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check attempt: %w", err)
	}
	return count > 0, nil
}

// ListAttempts returns attempts newest-first, optionally restricted to statuses.
func (s *Store) ListAttempts(ctx context.Context, statuses ...AttemptStatus) ([]*Attempt, error) {
	query := "SELECT " + attemptColumns + " FROM attempts"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY updated_at DESC, source, source_item_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// ClearAttempts removes every attempt record.
func (s *Store) ClearAttempts(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM attempts")
	if err != nil {
		return 0, fmt.Errorf("clear attempts: %w", err)
	}
	return res.RowsAffected()
}

func scanAttempt(scanner interface{ Scan(dest ...any) error }) (*Attempt, error) {
	var (
		attempt       Attempt
		downloadedRaw string
		updatedRaw    string
		rawPath       sql.NullString
		status        string
		errMsg        sql.NullString
	)
	if err := scanner.Scan(
		&attempt.Source,
		&attempt.SourceItemID,
		&attempt.SourceURL,
		&downloadedRaw,
		&updatedRaw,
		&rawPath,
		&status,
		&errMsg,
	); err != nil {
		return nil, err
	}
	attempt.Status = AttemptStatus(status)
	attempt.RawPath = rawPath.String
	attempt.Error = errMsg.String
	if t, err := parseTimeString(downloadedRaw); err == nil {
		attempt.DownloadedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		attempt.UpdatedAt = t
	}
	return &attempt, nil
}
