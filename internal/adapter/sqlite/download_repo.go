package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vertextoedge/transferd/internal/domain"
)

const downloadColumns = `id, url, dest_path, status, downloaded_bytes, total_bytes,
	active_path, etag, last_modified, resume_supported, retry_count, max_retries,
	next_retry_at, last_error, created_at, updated_at`

// activeStatuses are the states a record can be left in by a crash
var activeStatuses = []domain.Status{
	domain.StatusNegotiating,
	domain.StatusDownloading,
	domain.StatusPaused,
	domain.StatusRestarting,
	domain.StatusRestartRequired,
}

// CreateDownload inserts a new download record
func (s *Store) CreateDownload(d *domain.Download) error {
	now := nowUTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = domain.StatusQueued
	}

	query := `INSERT INTO downloads (` + downloadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, d.ID, d.URL, d.DestPath, string(d.Status),
		d.DownloadedBytes, d.TotalBytes, nullString(d.ActivePath),
		nullString(d.ETag), nullString(d.LastModified), d.ResumeSupported,
		d.RetryCount, d.MaxRetries, nullTime(d.NextRetryAt), nullString(d.LastError),
		d.CreatedAt.UTC(), d.UpdatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetDownload retrieves a record by id
func (s *Store) GetDownload(id string) (*domain.Download, error) {
	query := `SELECT ` + downloadColumns + ` FROM downloads WHERE id = ?`
	return scanDownload(s.db.QueryRow(query, id))
}

// ListDownloads returns all records, newest first
func (s *Store) ListDownloads() ([]*domain.Download, error) {
	query := `SELECT ` + downloadColumns + ` FROM downloads ORDER BY created_at DESC, id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []*domain.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// SaveDownload updates the mutable state of a record
func (s *Store) SaveDownload(d *domain.Download) error {
	d.UpdatedAt = nowUTC()

	query := `
		UPDATE downloads
		SET status = ?, downloaded_bytes = ?, total_bytes = ?, active_path = ?,
			etag = ?, last_modified = ?, resume_supported = ?,
			retry_count = ?, max_retries = ?, next_retry_at = ?, last_error = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, string(d.Status), d.DownloadedBytes, d.TotalBytes,
		nullString(d.ActivePath), nullString(d.ETag), nullString(d.LastModified),
		d.ResumeSupported, d.RetryCount, d.MaxRetries, nullTime(d.NextRetryAt),
		nullString(d.LastError), d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteDownload removes a record
func (s *Store) DeleteDownload(id string) error {
	_, err := s.db.Exec("DELETE FROM downloads WHERE id = ?", id)
	return err
}

// MarkActiveInterrupted flags records a previous process left mid-transfer
func (s *Store) MarkActiveInterrupted() (int, error) {
	placeholders := make([]string, len(activeStatuses))
	args := make([]interface{}, 0, len(activeStatuses)+2)
	args = append(args, string(domain.StatusInterrupted), nowUTC())
	for i, st := range activeStatuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`
		UPDATE downloads
		SET status = ?, updated_at = ?
		WHERE status IN (%s)
	`, strings.Join(placeholders, ", "))

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// CleanupFinished removes completed and cancelled records older than the specified duration
func (s *Store) CleanupFinished(olderThan time.Duration) (int, error) {
	cutoff := nowUTC().Add(-olderThan)

	result, err := s.db.Exec(
		"DELETE FROM downloads WHERE status IN (?, ?) AND updated_at < ?",
		string(domain.StatusCompleted), string(domain.StatusCancelled), cutoff)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanDownload scans a single download row
func scanDownload(row rowScanner) (*domain.Download, error) {
	d := &domain.Download{}
	var status string
	var activePath, etag, lastModified, lastError sql.NullString
	var nextRetryAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.URL, &d.DestPath, &status, &d.DownloadedBytes, &d.TotalBytes,
		&activePath, &etag, &lastModified, &d.ResumeSupported,
		&d.RetryCount, &d.MaxRetries, &nextRetryAt, &lastError,
		&d.CreatedAt, &d.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.Status = domain.Status(status)
	if activePath.Valid {
		d.ActivePath = activePath.String
	}
	if etag.Valid {
		d.ETag = etag.String
	}
	if lastModified.Valid {
		d.LastModified = lastModified.String
	}
	if lastError.Valid {
		d.LastError = lastError.String
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		d.NextRetryAt = &t
	}

	return d, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
