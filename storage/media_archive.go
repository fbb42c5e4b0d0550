package storage

import (
	"context"
	"database/sql"
	"time"
)

const (
	MediaPending  = "pending"
	MediaArchived = "archived"
	MediaFailed   = "failed"
)

// MediaTask is one image URL waiting to be mirrored.
type MediaTask struct {
	URL      string
	Attempts int
}

// PendingMedia returns image URLs referenced by stored listings that have
// not been archived yet and have fewer than maxAttempts failed tries. Each
// URL appears once even when several listings share it.
func (s *SQLiteStore) PendingMedia(ctx context.Context, limit, maxAttempts int) ([]MediaTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.url, COALESCE(MAX(a.attempts), 0)
		FROM media m LEFT JOIN media_archive a ON a.url = m.url
		WHERE m.media_type IN ('image', 'floorplan')
			AND (a.url IS NULL OR (a.status = ? AND a.attempts < ?))
		GROUP BY m.url
		ORDER BY m.url
		LIMIT ?`, MediaPending, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []MediaTask
	for rows.Next() {
		var t MediaTask
		if err := rows.Scan(&t.URL, &t.Attempts); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkMediaArchived records where an image was stored.
func (s *SQLiteStore) MarkMediaArchived(ctx context.Context, url, key, hash string, size int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_archive (url, status, archive_key, content_hash, size_bytes, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL, ?)
		ON CONFLICT(url) DO UPDATE SET
			status = excluded.status,
			archive_key = excluded.archive_key,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			last_error = NULL,
			updated_at = excluded.updated_at`,
		url, MediaArchived, key, hash, size, time.Now().UTC())
	return err
}

// MarkMediaFailed records a failed try. Once attempts reaches maxAttempts
// the URL is marked failed and no longer returned by PendingMedia.
func (s *SQLiteStore) MarkMediaFailed(ctx context.Context, url string, attempts, maxAttempts int, reason string) error {
	status := MediaPending
	if attempts >= maxAttempts {
		status = MediaFailed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_archive (url, status, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		url, status, attempts, reason, time.Now().UTC())
	return err
}

// MediaArchiveKey returns the archive key of url, or "" if it has not been
// archived.
func (s *SQLiteStore) MediaArchiveKey(ctx context.Context, url string) (string, error) {
	var key sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT archive_key FROM media_archive WHERE url = ? AND status = ?`, url, MediaArchived).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return key.String, err
}
