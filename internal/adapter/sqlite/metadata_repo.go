package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/port"
)

// MetadataStore keeps resume records in the transfer_meta table
type MetadataStore struct {
	store  *Store
	logger *zap.Logger
}

// Ensure MetadataStore implements port.MetadataStore
var _ port.MetadataStore = (*MetadataStore)(nil)

// Metadata returns a resume record store backed by this database
func (s *Store) Metadata(logger *zap.Logger) *MetadataStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataStore{store: s, logger: logger}
}

// Load returns the record for dest, or nil if there is none
func (m *MetadataStore) Load(dest string) *domain.Metadata {
	query := `
		SELECT url, etag, last_modified, total_length, downloaded_bytes, updated_at
		FROM transfer_meta
		WHERE dest_path = ?
	`

	meta := &domain.Metadata{}
	var etag, lastModified sql.NullString
	var updatedAt int64

	err := m.store.db.QueryRow(query, dest).Scan(
		&meta.URL, &etag, &lastModified, &meta.TotalLength, &meta.DownloadedBytes, &updatedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			m.logger.Debug("resume record unreadable", zap.String("dest", dest), zap.Error(err))
		}
		return nil
	}

	if etag.Valid {
		meta.ETag = etag.String
	}
	if lastModified.Valid {
		meta.LastModified = lastModified.String
	}
	if meta.TotalLength <= 0 {
		meta.TotalLength = domain.UnknownLength
	}
	meta.UpdatedAt = time.UnixMilli(updatedAt)
	return meta
}

// Save upserts the record for dest
func (m *MetadataStore) Save(dest string, meta *domain.Metadata) error {
	if meta == nil {
		return fmt.Errorf("nil metadata")
	}

	updatedAt := meta.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	total := meta.TotalLength
	if total <= 0 {
		total = domain.UnknownLength
	}

	query := `
		INSERT INTO transfer_meta (dest_path, url, etag, last_modified, total_length, downloaded_bytes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dest_path) DO UPDATE SET
			url = excluded.url,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			total_length = excluded.total_length,
			downloaded_bytes = excluded.downloaded_bytes,
			updated_at = excluded.updated_at
	`

	_, err := m.store.db.Exec(query, dest, meta.URL, nullString(meta.ETag),
		nullString(meta.LastModified), total, meta.DownloadedBytes, updatedAt.UnixMilli())
	return err
}

// Delete removes the record for dest
func (m *MetadataStore) Delete(dest string) error {
	_, err := m.store.db.Exec("DELETE FROM transfer_meta WHERE dest_path = ?", dest)
	return err
}
