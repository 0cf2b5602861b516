package filesystem

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/port"
)

// Manager handles local payload files
type Manager struct {
	rootDir string
}

// Ensure Manager implements port.PayloadStore
var _ port.PayloadStore = (*Manager)(nil)

// NewManager creates a new filesystem manager rooted at the download directory
func NewManager(rootDir string) (*Manager, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download root dir: %w", err)
	}

	// Ensure root directory exists
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download root dir: %w", err)
	}

	return &Manager{
		rootDir: root,
	}, nil
}

// RootDir returns the download root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// Resolve returns an absolute destination for a caller supplied path.
// Relative paths are placed under the root directory. Anything that lands
// outside the root is rejected with domain.ErrInvalidInput.
func (m *Manager) Resolve(dest string) (string, error) {
	full := filepath.Clean(dest)
	if !filepath.IsAbs(full) {
		full = filepath.Join(m.rootDir, full)
	}
	if !strings.HasPrefix(full, m.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: destination %q is outside the download directory", domain.ErrInvalidInput, dest)
	}
	return full, nil
}

// PartPath returns the temporary payload path for a destination
func (m *Manager) PartPath(dest string) string {
	return dest + domain.PartSuffix
}

// EnsureDir ensures the directory for a file path exists
func (m *Manager) EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0755)
}

// PartSize returns the size of a temporary payload and whether it exists
func (m *Manager) PartSize(partPath string) (int64, bool, error) {
	info, err := os.Stat(partPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if info.IsDir() {
		return 0, false, fmt.Errorf("payload path is a directory: %s", partPath)
	}
	return info.Size(), true, nil
}

// OpenPart opens the payload for writing at offset
func (m *Manager) OpenPart(partPath string, offset int64) (port.PartFile, error) {
	// Ensure parent directory exists
	if err := m.EnsureDir(partPath); err != nil {
		return nil, fmt.Errorf("failed to create parent dir: %w", err)
	}

	if offset <= 0 {
		f, err := os.Create(partPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create temp file: %w", err)
		}
		return f, nil
	}

	f, err := os.OpenFile(partPath, os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open temp file for resume: %w", err)
	}

	// Anything past offset was never acknowledged by the origin
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate temp file: %w", err)
	}
	if _, err := f.Seek(offset, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek temp file: %w", err)
	}
	return f, nil
}

// DiscardPart removes a temporary payload
func (m *Manager) DiscardPart(partPath string) error {
	if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete temp file: %w", err)
	}
	return nil
}

// Promote renames the payload to its final name, replacing any existing file
func (m *Manager) Promote(partPath, dest string) (int64, error) {
	if err := m.EnsureDir(dest); err != nil {
		return 0, fmt.Errorf("failed to create parent dir: %w", err)
	}

	if err := os.Rename(partPath, dest); err != nil {
		// Some platforms refuse to rename over an existing file
		if _, statErr := os.Stat(dest); statErr != nil {
			return 0, fmt.Errorf("failed to rename temp file: %w", err)
		}
		if rmErr := os.Remove(dest); rmErr != nil {
			return 0, fmt.Errorf("failed to replace existing file: %w", rmErr)
		}
		if err := os.Rename(partPath, dest); err != nil {
			return 0, fmt.Errorf("failed to rename temp file: %w", err)
		}
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// FileExists checks if a file exists
func (m *Manager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CleanOrphanSidecars removes sidecars whose payload no longer exists
func (m *Manager) CleanOrphanSidecars(root string, olderThan time.Duration) (int, error) {
	if root == "" {
		root = m.rootDir
	}
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, domain.SidecarSuffix) {
			return nil
		}
		if info.ModTime().After(threshold) {
			return nil
		}

		dest := strings.TrimSuffix(path, domain.SidecarSuffix)
		if m.FileExists(m.PartPath(dest)) {
			return nil
		}
		if removeErr := os.Remove(path); removeErr == nil {
			count++
		}
		return nil
	})
	return count, err
}

// CleanEmptyDirs removes empty directories under root. The root itself is kept.
func (m *Manager) CleanEmptyDirs() error {
	var dirs []string
	err := filepath.WalkDir(m.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != m.rootDir {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Children come after parents in walk order
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i]) // Will only succeed if empty
	}
	return nil
}
