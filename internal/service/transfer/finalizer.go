package transfer

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/port"
)

// finalize promotes the partial file to its destination and clears the
// resume record
func (e *Engine) finalize(dest, part string) domain.Outcome {
	size, err := e.deps.Payload.Promote(part, dest)
	if err != nil {
		bytes, _, _ := e.deps.Payload.PartSize(part)
		return domain.Failed(domain.NewTransportError("promote partial file", err), bytes)
	}
	if err := e.deps.Metadata.Delete(dest); err != nil {
		e.logger.Warn("failed to delete transfer metadata", zap.String("dest", dest), zap.Error(err))
	}

	e.bridge.Apply(func(t port.Target) {
		t.SetActiveFilePath(dest)
		t.SetDownloadedBytes(size)
		t.SetFileSize(size)
		t.SetDownloadSpeed(0)
		t.SetRemainingTime(0)
		t.SetProgress(100)
		t.SetStatus(domain.StatusCompleted)
	})

	e.logger.Info("transfer completed",
		zap.String("dest", dest),
		zap.String("size", humanize.Bytes(uint64(size))))
	return domain.Completed(dest, size)
}
