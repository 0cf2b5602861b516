package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// GetDiskUsage returns disk usage for the download directory
func (m *Manager) GetDiskUsage() (*DiskUsage, error) {
	return usageOf(m.rootDir)
}

// FreeSpace returns the free bytes on the volume holding path
func (m *Manager) FreeSpace(path string) (uint64, error) {
	usage, err := usageOf(existingAncestor(path))
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

func usageOf(path string) (*DiskUsage, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk stats: %w", err)
	}
	return &DiskUsage{
		Total:   stat.Total,
		Used:    stat.Used,
		Free:    stat.Free,
		UsedPct: stat.UsedPercent,
	}, nil
}

// existingAncestor walks up until it finds a path that exists, since the
// destination directory may not have been created yet.
func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
