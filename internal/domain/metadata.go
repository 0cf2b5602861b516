package domain

import "time"

// UnknownLength marks a total size the origin never disclosed
const UnknownLength int64 = -1

// File name conventions beside a destination file
const (
	PartSuffix    = ".part"
	SidecarSuffix = ".meta.json"
)

// Metadata is the resume record kept beside a partial payload
type Metadata struct {
	URL             string
	ETag            string
	LastModified    string
	TotalLength     int64
	DownloadedBytes int64
	UpdatedAt       time.Time
}

// HasExpectation returns true if the record carries anything a response can be checked against
func (m *Metadata) HasExpectation() bool {
	if m == nil {
		return false
	}
	return m.ETag != "" || m.LastModified != "" || m.TotalLength > 0
}

// Touch records progress
func (m *Metadata) Touch(downloaded int64) {
	m.DownloadedBytes = downloaded
	m.UpdatedAt = time.Now()
}

// RemoteInfo is what a header-only probe learned about the origin.
// Unknown fields stay at their zero value, with ContentLength set to UnknownLength.
type RemoteInfo struct {
	ContentLength   int64
	ETag            string
	LastModified    string
	ResumeSupported bool
}

// UnknownRemote returns a probe result with every field unknown
func UnknownRemote() RemoteInfo {
	return RemoteInfo{ContentLength: UnknownLength}
}

// Progress is a point-in-time view of a running transfer
type Progress struct {
	Status     Status
	Downloaded int64
	Total      int64
	Speed      float64 // bytes per second
	Remaining  time.Duration
	Percent    float64
}

// UnknownRemaining marks an ETA that cannot be computed
const UnknownRemaining time.Duration = -1
