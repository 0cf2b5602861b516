package port

import (
	"time"

	"github.com/vertextoedge/transferd/internal/domain"
)

// DownloadRepository defines persistence for download records
type DownloadRepository interface {
	// CreateDownload inserts a new record
	// Returns domain.ErrAlreadyExists if the id is taken
	CreateDownload(d *domain.Download) error

	// GetDownload retrieves a record by id
	// Returns nil if not found
	GetDownload(id string) (*domain.Download, error)

	// ListDownloads returns all records, newest first
	ListDownloads() ([]*domain.Download, error)

	// SaveDownload updates the mutable state of an existing record
	SaveDownload(d *domain.Download) error

	// DeleteDownload removes a record
	DeleteDownload(id string) error

	// MarkActiveInterrupted flags records left active by a previous run
	MarkActiveInterrupted() (int, error)

	// CleanupFinished removes completed and cancelled records older than the given age
	CleanupFinished(olderThan time.Duration) (int, error)

	// GetStats returns record counts by status
	GetStats() (*domain.DownloadStats, error)
}

// Store is the full persistence surface
type Store interface {
	DownloadRepository
	Ping() error
	Close() error
}
