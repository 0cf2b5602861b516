package port

import (
	"io"
	"time"
)

// PartFile is an open temporary payload positioned at its write offset
type PartFile interface {
	io.Writer
	Sync() error
	Close() error
}

// PayloadStore defines the filesystem operations the engine needs
type PayloadStore interface {
	// PartPath returns the temporary payload path for a destination
	PartPath(dest string) string

	// PartSize returns the size of a temporary payload and whether it exists
	PartSize(partPath string) (int64, bool, error)

	// OpenPart opens the payload for writing at offset.
	// Offset zero creates or truncates the file.
	OpenPart(partPath string, offset int64) (PartFile, error)

	// DiscardPart removes a temporary payload. Missing files are not an error.
	DiscardPart(partPath string) error

	// Promote renames the payload to dest, replacing any existing file.
	// Returns the final size.
	Promote(partPath, dest string) (int64, error)

	// FreeSpace returns the bytes available to unprivileged writers on the volume holding path
	FreeSpace(path string) (uint64, error)

	// CleanOrphanSidecars removes sidecars under root whose payload is missing
	// and that were not touched within olderThan. Returns the number deleted.
	CleanOrphanSidecars(root string, olderThan time.Duration) (int, error)
}
