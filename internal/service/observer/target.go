package observer

import (
	"sync"
	"time"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/port"
)

// Snapshot is a consistent copy of a target's fields
type Snapshot struct {
	URL             string        `json:"url"`
	Dest            string        `json:"dest"`
	Status          domain.Status `json:"status"`
	StatusLabel     string        `json:"status_label"`
	Progress        float64       `json:"progress"`
	DownloadedBytes int64         `json:"downloaded_bytes"`
	FileSize        int64         `json:"file_size"`
	Speed           float64       `json:"speed"`
	RemainingTime   time.Duration `json:"remaining_ns"`
	ETag            string        `json:"etag,omitempty"`
	LastModified    string        `json:"last_modified,omitempty"`
	ResumeSupported bool          `json:"resume_supported"`
	ActiveFilePath  string        `json:"active_file_path,omitempty"`
}

// Target is an in-memory download descriptor safe for concurrent use
type Target struct {
	mu sync.RWMutex
	s  Snapshot
}

// Ensure Target implements port.Target
var _ port.Target = (*Target)(nil)

// NewTarget creates a queued target for url saved at dest
func NewTarget(url, dest string) *Target {
	return &Target{s: Snapshot{
		URL:           url,
		Dest:          dest,
		Status:        domain.StatusQueued,
		FileSize:      domain.UnknownLength,
		RemainingTime: domain.UnknownRemaining,
	}}
}

// Snapshot returns a copy of the current state
func (t *Target) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.s
	s.StatusLabel = s.Status.Label()
	return s
}

func (t *Target) read(fn func(s *Snapshot)) {
	t.mu.RLock()
	fn(&t.s)
	t.mu.RUnlock()
}

func (t *Target) write(fn func(s *Snapshot)) {
	t.mu.Lock()
	fn(&t.s)
	t.mu.Unlock()
}

func (t *Target) URL() (v string) {
	t.read(func(s *Snapshot) { v = s.URL })
	return
}

func (t *Target) ResolveTargetFilePath() (v string) {
	t.read(func(s *Snapshot) { v = s.Dest })
	return
}

func (t *Target) Status() (v domain.Status) {
	t.read(func(s *Snapshot) { v = s.Status })
	return
}

func (t *Target) SetStatus(status domain.Status) {
	t.write(func(s *Snapshot) { s.Status = status })
}

func (t *Target) Progress() (v float64) {
	t.read(func(s *Snapshot) { v = s.Progress })
	return
}

func (t *Target) SetProgress(percent float64) {
	t.write(func(s *Snapshot) { s.Progress = percent })
}

func (t *Target) DownloadedBytes() (v int64) {
	t.read(func(s *Snapshot) { v = s.DownloadedBytes })
	return
}

func (t *Target) SetDownloadedBytes(n int64) {
	t.write(func(s *Snapshot) { s.DownloadedBytes = n })
}

func (t *Target) FileSize() (v int64) {
	t.read(func(s *Snapshot) { v = s.FileSize })
	return
}

func (t *Target) SetFileSize(n int64) {
	t.write(func(s *Snapshot) { s.FileSize = n })
}

func (t *Target) DownloadSpeed() (v float64) {
	t.read(func(s *Snapshot) { v = s.Speed })
	return
}

func (t *Target) SetDownloadSpeed(bytesPerSec float64) {
	t.write(func(s *Snapshot) { s.Speed = bytesPerSec })
}

func (t *Target) RemainingTime() (v time.Duration) {
	t.read(func(s *Snapshot) { v = s.RemainingTime })
	return
}

func (t *Target) SetRemainingTime(d time.Duration) {
	t.write(func(s *Snapshot) { s.RemainingTime = d })
}

func (t *Target) ETag() (v string) {
	t.read(func(s *Snapshot) { v = s.ETag })
	return
}

func (t *Target) SetETag(etag string) {
	t.write(func(s *Snapshot) { s.ETag = etag })
}

func (t *Target) LastModified() (v string) {
	t.read(func(s *Snapshot) { v = s.LastModified })
	return
}

func (t *Target) SetLastModified(lastModified string) {
	t.write(func(s *Snapshot) { s.LastModified = lastModified })
}

func (t *Target) ResumeSupported() (v bool) {
	t.read(func(s *Snapshot) { v = s.ResumeSupported })
	return
}

func (t *Target) SetResumeSupported(supported bool) {
	t.write(func(s *Snapshot) { s.ResumeSupported = supported })
}

func (t *Target) ActiveFilePath() (v string) {
	t.read(func(s *Snapshot) { v = s.ActiveFilePath })
	return
}

func (t *Target) SetActiveFilePath(path string) {
	t.write(func(s *Snapshot) { s.ActiveFilePath = path })
}
