package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/metrics"
	"github.com/vertextoedge/transferd/internal/port"
	"github.com/vertextoedge/transferd/internal/util/ratelimiter"
)

// transfer copies the response body into the partial file starting at start
func (e *Engine) transfer(ctx context.Context, cancel context.CancelCauseFunc, local localState, resp *http.Response, start int64) domain.Outcome {
	defer resp.Body.Close()

	total := responseTotal(resp, start, local.expected.Total)
	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	if etag == "" && start > 0 {
		etag = local.expected.ETag
	}
	if lastModified == "" && start > 0 {
		lastModified = local.expected.LastModified
	}

	e.bridge.Apply(func(t port.Target) {
		t.SetETag(etag)
		t.SetLastModified(lastModified)
		t.SetResumeSupported(acceptsRanges(resp))
		t.SetActiveFilePath(local.part)
		if total > 0 {
			t.SetFileSize(total)
		}
		t.SetDownloadedBytes(start)
		t.SetStatus(domain.StatusDownloading)
	})

	if err := e.checkFreeSpace(local.part, total, start); err != nil {
		return domain.Failed(err, start)
	}

	meta := &domain.Metadata{
		URL:          e.target.URL(),
		ETag:         etag,
		LastModified: lastModified,
		TotalLength:  total,
	}
	meta.Touch(start)
	e.saveMetadata(local.dest, meta)

	file, err := e.deps.Payload.OpenPart(local.part, start)
	if err != nil {
		return domain.Failed(domain.NewTransportError("open partial file", err), start)
	}

	written, outcome, finished := e.copyLoop(ctx, cancel, resp.Body, file, local, meta, start, total)
	if !finished {
		file.Close()
		meta.Touch(written)
		e.saveMetadata(local.dest, meta)
		return outcome
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return domain.Failed(domain.NewTransportError("sync partial file", err), written)
	}
	if err := file.Close(); err != nil {
		return domain.Failed(domain.NewTransportError("close partial file", err), written)
	}
	return e.finalize(local.dest, local.part)
}

// copyLoop moves chunks until EOF, cancellation or failure. finished is
// true only when the whole body was written.
func (e *Engine) copyLoop(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	body io.Reader,
	file port.PartFile,
	local localState,
	meta *domain.Metadata,
	start, total int64,
) (written int64, outcome domain.Outcome, finished bool) {
	written = start
	buf := make([]byte, e.config.ChunkSize)

	progressGate := ratelimiter.New(e.config.ProgressInterval)
	progressGate.Prime()
	persistGate := ratelimiter.New(e.config.PersistInterval)
	persistGate.Prime()
	speed := newSpeedometer(start)

	// A stalled origin cancels the attempt with a recognisable cause
	watchdog := time.AfterFunc(e.config.ReadTimeout, func() { cancel(domain.ErrReadTimeout) })
	defer watchdog.Stop()

	for {
		if e.ctl.isCancelled() {
			return written, domain.Cancelled(written), false
		}

		if e.ctl.isPaused() {
			watchdog.Stop()
			if err := file.Sync(); err != nil {
				e.logger.Warn("failed to sync partial file before pause", zap.Error(err))
			}
			meta.Touch(written)
			e.saveMetadata(local.dest, meta)
			persistGate.Force()

			paused := written
			e.bridge.Apply(func(t port.Target) {
				t.SetDownloadedBytes(paused)
				t.SetDownloadSpeed(0)
				t.SetRemainingTime(domain.UnknownRemaining)
				t.SetStatus(domain.StatusPaused)
			})
			e.logger.Info("transfer paused", zap.String("at", humanize.Bytes(uint64(written))))

			if !e.ctl.waitWhilePaused(ctx) {
				return written, domain.Cancelled(written), false
			}

			e.logger.Info("transfer resumed")
			e.bridge.SetStatus(domain.StatusDownloading)
			speed.reset(written)
			watchdog.Reset(e.config.ReadTimeout)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			watchdog.Reset(e.config.ReadTimeout)
			if _, err := file.Write(buf[:n]); err != nil {
				return written, domain.Failed(domain.NewTransportError("write partial file", err), written), false
			}
			written += int64(n)
			metrics.BytesDownloadedTotal.Add(float64(n))

			if ok, _ := progressGate.Allow(); ok {
				e.bridge.Report(speed.progress(written, total))
			}
			if ok, _ := persistGate.Allow(); ok {
				meta.Touch(written)
				e.saveMetadata(local.dest, meta)
			}
		}

		if readErr == io.EOF {
			if total > 0 && written < total {
				return written, domain.Failed(domain.NewTransportError("read body", domain.ErrPrematureEOF), written), false
			}
			return written, domain.Outcome{}, true
		}
		if readErr != nil {
			if e.ctl.isCancelled() {
				return written, domain.Cancelled(written), false
			}
			err := readErr
			if errors.Is(context.Cause(ctx), domain.ErrReadTimeout) {
				err = domain.ErrReadTimeout
			}
			return written, domain.Failed(domain.NewTransportError("read body", err), written), false
		}
	}
}

// checkFreeSpace fails early when the rest of the file cannot fit
func (e *Engine) checkFreeSpace(part string, total, start int64) error {
	if total <= 0 {
		return nil
	}
	free, err := e.deps.Payload.FreeSpace(part)
	if err != nil {
		e.logger.Debug("free space unknown, skipping preflight", zap.Error(err))
		return nil
	}
	need := uint64(total-start) + e.config.MinFreeSpace
	if free < need {
		e.logger.Warn("not enough free space",
			zap.String("need", humanize.Bytes(need)),
			zap.String("free", humanize.Bytes(free)))
		return domain.NewTransportError("preflight", domain.ErrInsufficientSpace)
	}
	return nil
}

// speedometer derives speed and ETA from byte counts between reports
type speedometer struct {
	lastBytes int64
	lastTime  time.Time
	speed     float64
}

func newSpeedometer(start int64) *speedometer {
	return &speedometer{lastBytes: start, lastTime: time.Now()}
}

func (s *speedometer) reset(bytes int64) {
	s.lastBytes = bytes
	s.lastTime = time.Now()
	s.speed = 0
}

func (s *speedometer) progress(written, total int64) domain.Progress {
	now := time.Now()
	if elapsed := now.Sub(s.lastTime).Seconds(); elapsed > 0 {
		s.speed = float64(written-s.lastBytes) / elapsed
		s.lastBytes = written
		s.lastTime = now
	}

	p := domain.Progress{
		Status:     domain.StatusDownloading,
		Downloaded: written,
		Total:      total,
		Speed:      s.speed,
		Remaining:  domain.UnknownRemaining,
	}
	if total > 0 {
		p.Percent = float64(written) * 100 / float64(total)
		if s.speed > 0 && written <= total {
			p.Remaining = time.Duration(float64(total-written) / s.speed * float64(time.Second))
		}
	}
	return p
}
