package port

import (
	"context"
	"net/http"

	"github.com/vertextoedge/transferd/internal/domain"
)

// MetadataStore persists resume records keyed by destination path
type MetadataStore interface {
	// Load returns the record for dest, or nil if it is missing or unreadable
	Load(dest string) *domain.Metadata

	// Save writes the record. Failures only degrade resumability.
	Save(dest string, meta *domain.Metadata) error

	// Delete removes the record. Missing records are not an error.
	Delete(dest string) error
}

// Prober learns what it can about a remote resource without fetching its body.
// It never fails: anything it cannot learn is reported as unknown.
type Prober interface {
	Probe(ctx context.Context, url string) domain.RemoteInfo
}

// Origin issues body requests against the remote host
type Origin interface {
	Prober

	// Fetch sends a GET with the given extra headers. The caller owns the body.
	Fetch(ctx context.Context, url string, header http.Header) (*http.Response, error)
}
