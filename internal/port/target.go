package port

import (
	"context"
	"time"

	"github.com/vertextoedge/transferd/internal/domain"
)

// Target is the download descriptor owned by the caller. The engine only
// mutates it through these methods; implementations must tolerate concurrent
// readers.
type Target interface {
	URL() string

	// ResolveTargetFilePath returns the final destination path
	ResolveTargetFilePath() string

	Status() domain.Status
	SetStatus(status domain.Status)

	Progress() float64
	SetProgress(percent float64)

	DownloadedBytes() int64
	SetDownloadedBytes(n int64)

	FileSize() int64
	SetFileSize(n int64)

	DownloadSpeed() float64
	SetDownloadSpeed(bytesPerSec float64)

	RemainingTime() time.Duration
	SetRemainingTime(d time.Duration)

	ETag() string
	SetETag(etag string)

	LastModified() string
	SetLastModified(lastModified string)

	ResumeSupported() bool
	SetResumeSupported(supported bool)

	ActiveFilePath() string
	SetActiveFilePath(path string)
}

// RestartApprover asks an external party whether a transfer may throw away
// its partial file. The returned channel yields exactly one decision; the
// request is abandoned when ctx is cancelled.
type RestartApprover interface {
	RequestRestart(ctx context.Context, reason string) <-chan domain.RestartDecision
}

// RestartApproverFunc adapts a blocking function to RestartApprover
type RestartApproverFunc func(ctx context.Context, reason string) (bool, error)

// RequestRestart runs f in its own goroutine
func (f RestartApproverFunc) RequestRestart(ctx context.Context, reason string) <-chan domain.RestartDecision {
	ch := make(chan domain.RestartDecision, 1)
	go func() {
		approved, err := f(ctx, reason)
		ch <- domain.RestartDecision{Approved: approved, Err: err}
	}()
	return ch
}
