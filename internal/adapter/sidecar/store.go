package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/port"
)

// record is the on-disk shape of a sidecar file
type record struct {
	URL             string  `json:"url"`
	ETag            *string `json:"etag"`
	LastModified    *string `json:"lastModified"`
	TotalLength     int64   `json:"totalLength"`
	DownloadedBytes int64   `json:"downloadedBytes"`
	UpdatedAt       int64   `json:"updatedAt"`
}

// Store keeps resume records in a JSON file next to the destination
type Store struct {
	logger *zap.Logger
}

// Ensure Store implements port.MetadataStore
var _ port.MetadataStore = (*Store)(nil)

// NewStore creates a sidecar metadata store
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger}
}

// Path returns the sidecar path for a destination
func Path(dest string) string {
	return dest + domain.SidecarSuffix
}

// Load reads the sidecar for dest. Missing or malformed files yield nil.
func (s *Store) Load(dest string) *domain.Metadata {
	data, err := os.ReadFile(Path(dest))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("sidecar unreadable", zap.String("dest", dest), zap.Error(err))
		}
		return nil
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		s.logger.Debug("sidecar malformed", zap.String("dest", dest), zap.Error(err))
		return nil
	}

	meta := &domain.Metadata{
		URL:             r.URL,
		TotalLength:     r.TotalLength,
		DownloadedBytes: r.DownloadedBytes,
		UpdatedAt:       time.UnixMilli(r.UpdatedAt),
	}
	if r.ETag != nil {
		meta.ETag = *r.ETag
	}
	if r.LastModified != nil {
		meta.LastModified = *r.LastModified
	}
	if meta.TotalLength <= 0 {
		meta.TotalLength = domain.UnknownLength
	}
	return meta
}

// Save writes the sidecar atomically through a temporary file
func (s *Store) Save(dest string, meta *domain.Metadata) error {
	if meta == nil {
		return fmt.Errorf("nil metadata")
	}

	r := record{
		URL:             meta.URL,
		ETag:            optional(meta.ETag),
		LastModified:    optional(meta.LastModified),
		TotalLength:     meta.TotalLength,
		DownloadedBytes: meta.DownloadedBytes,
		UpdatedAt:       meta.UpdatedAt.UnixMilli(),
	}
	if r.TotalLength <= 0 {
		r.TotalLength = domain.UnknownLength
	}
	if meta.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}

	path := Path(dest)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create sidecar dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace sidecar: %w", err)
	}
	return nil
}

// Delete removes the sidecar for dest
func (s *Store) Delete(dest string) error {
	if err := os.Remove(Path(dest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete sidecar: %w", err)
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
