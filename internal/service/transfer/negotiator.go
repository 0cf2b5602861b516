package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/metrics"
	"github.com/vertextoedge/transferd/internal/port"
)

// Negotiation decisions, used as metric labels
const (
	decisionAlreadyComplete = "already_complete"
	decisionFresh           = "fresh"
	decisionResume          = "resume"
	decisionRestart         = "restart_approved"
	decisionDeclined        = "restart_declined"
	decisionHalted          = "halted"
	decisionError           = "error"
)

// localState is what is on disk before the request is built
type localState struct {
	dest     string
	part     string
	size     int64
	expected expectation
}

// attempt negotiates with the origin and runs the transfer it settles on
func (e *Engine) attempt(ctx context.Context, cancel context.CancelCauseFunc, dest string) domain.Outcome {
	e.bridge.SetStatus(domain.StatusNegotiating)

	local, err := e.inspectLocal(dest)
	if err != nil {
		return domain.Failed(domain.NewTransportError("inspect partial file", err), 0)
	}

	url := e.target.URL()
	remote := e.deps.Origin.Probe(ctx, url)
	if e.ctl.isCancelled() {
		return domain.Cancelled(local.size)
	}

	known := local.expected.Total
	if known <= 0 {
		known = remote.ContentLength
	}
	e.bridge.Apply(func(t port.Target) {
		t.SetResumeSupported(remote.ResumeSupported)
		t.SetActiveFilePath(local.part)
		if known > 0 {
			t.SetFileSize(known)
		}
	})

	// Rule 1: nothing left to fetch
	if known > 0 && local.size >= known {
		metrics.NegotiationsTotal.WithLabelValues(decisionAlreadyComplete).Inc()
		e.logger.Info("partial file already complete", zap.String("dest", dest))
		return e.finalize(local.dest, local.part)
	}

	resp, err := e.deps.Origin.Fetch(ctx, url, resumeHeaders(local))
	if err != nil {
		return e.failure(err, local.size)
	}

	if local.size == 0 {
		return e.handleFresh(ctx, cancel, local, resp)
	}
	return e.handleResume(ctx, cancel, local, resp)
}

// inspectLocal reads the partial file and its resume record. A record
// without a payload, or one written for a different url, is stale and removed.
func (e *Engine) inspectLocal(dest string) (localState, error) {
	state := localState{dest: dest, part: e.deps.Payload.PartPath(dest)}

	size, exists, err := e.deps.Payload.PartSize(state.part)
	if err != nil {
		return state, err
	}
	meta := e.deps.Metadata.Load(dest)
	if meta != nil && meta.URL != "" && meta.URL != e.target.URL() {
		// Left behind by a download of another url at the same destination
		e.logger.Debug("discarding transfer metadata recorded for another url",
			zap.String("dest", dest),
			zap.String("recorded_url", meta.URL))
		if err := e.deps.Metadata.Delete(dest); err != nil {
			e.logger.Warn("failed to delete stale metadata", zap.Error(err))
		}
		meta = nil
	}

	if !exists {
		if meta != nil {
			e.logger.Debug("discarding stale transfer metadata", zap.String("dest", dest))
			if err := e.deps.Metadata.Delete(dest); err != nil {
				e.logger.Warn("failed to delete stale metadata", zap.Error(err))
			}
		}
		return state, nil
	}

	state.size = size
	if meta != nil {
		state.expected = expectation{ETag: meta.ETag, LastModified: meta.LastModified, Total: meta.TotalLength}
	} else if size > 0 {
		// No sidecar: fall back to what the caller remembers about the file
		state.expected = expectation{
			ETag:         e.target.ETag(),
			LastModified: e.target.LastModified(),
			Total:        e.target.FileSize(),
		}
	}
	return state, nil
}

func resumeHeaders(local localState) http.Header {
	header := http.Header{}
	if local.size <= 0 {
		return header
	}
	header.Set("Range", "bytes="+strconv.FormatInt(local.size, 10)+"-")
	if local.expected.ETag != "" && !isWeakETag(local.expected.ETag) {
		header.Set("If-Match", local.expected.ETag)
	}
	if local.expected.LastModified != "" {
		header.Set("If-Unmodified-Since", local.expected.LastModified)
	}
	return header
}

// handleFresh accepts only a full body or a range starting at zero
func (e *Engine) handleFresh(ctx context.Context, cancel context.CancelCauseFunc, local localState, resp *http.Response) domain.Outcome {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		if resp.StatusCode == http.StatusPartialContent {
			cr, err := parseContentRange(resp.Header.Get("Content-Range"))
			if err != nil || cr.Start != 0 {
				resp.Body.Close()
				return e.failure(domain.NewStatusError("fresh download", resp.StatusCode), 0)
			}
		}
		metrics.NegotiationsTotal.WithLabelValues(decisionFresh).Inc()
		return e.transfer(ctx, cancel, local, resp, 0)
	case http.StatusForbidden, http.StatusGone:
		resp.Body.Close()
		return e.halt(domain.HaltExpired, 0, "origin refused the link")
	default:
		resp.Body.Close()
		return e.failure(domain.NewStatusError("fresh download", resp.StatusCode), 0)
	}
}

// handleResume interprets the answer to a ranged request
func (e *Engine) handleResume(ctx context.Context, cancel context.CancelCauseFunc, local localState, resp *http.Response) domain.Outcome {
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusGone:
		resp.Body.Close()
		return e.halt(domain.HaltExpired, local.size, "origin refused the link")

	case http.StatusPreconditionFailed:
		resp.Body.Close()
		return e.halt(domain.HaltResourceChanged, local.size, "precondition failed")

	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		cr, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && cr.Total >= 0 && local.size >= cr.Total {
			metrics.NegotiationsTotal.WithLabelValues(decisionAlreadyComplete).Inc()
			return e.finalize(local.dest, local.part)
		}
		return e.halt(domain.HaltInvalidRange, local.size, "range not satisfiable")

	case http.StatusPartialContent:
		if cr, err := parseContentRange(resp.Header.Get("Content-Range")); err == nil && cr.Start != local.size {
			resp.Body.Close()
			return e.halt(domain.HaltInvalidRange, local.size,
				fmt.Sprintf("origin answered from byte %d instead of %d", cr.Start, local.size))
		}
		total := responseTotal(resp, local.size, local.expected.Total)
		if diff := local.expected.mismatch(resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), total); diff != "" {
			resp.Body.Close()
			return e.halt(domain.HaltResourceChanged, local.size, diff)
		}
		metrics.NegotiationsTotal.WithLabelValues(decisionResume).Inc()
		e.logger.Info("resuming transfer", zap.Int64("from_byte", local.size))
		return e.transfer(ctx, cancel, local, resp, local.size)

	case http.StatusOK:
		total := responseTotal(resp, 0, domain.UnknownLength)
		reason := "the server ignored the range request; restarting discards the partial file"
		if diff := local.expected.mismatch(resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), total); diff != "" {
			reason = "the remote file changed (" + diff + "); restarting discards the partial file"
		}
		resp.Body.Close()
		return e.requestRestart(ctx, cancel, local, reason)

	default:
		resp.Body.Close()
		return e.failure(domain.NewStatusError("resume", resp.StatusCode), local.size)
	}
}

// requestRestart asks for approval to discard the partial file. The wait
// ends early on cancellation.
func (e *Engine) requestRestart(ctx context.Context, cancel context.CancelCauseFunc, local localState, reason string) domain.Outcome {
	e.bridge.SetStatus(domain.StatusRestartRequired)
	e.logger.Info("restart approval requested", zap.String("reason", reason))

	var decision domain.RestartDecision
	if e.deps.Approver == nil {
		decision = domain.RestartDecision{Approved: false}
	} else {
		select {
		case decision = <-e.deps.Approver.RequestRestart(ctx, reason):
		case <-e.ctl.done():
			return domain.Cancelled(local.size)
		}
	}

	if decision.Err != nil {
		if e.ctl.isCancelled() {
			return domain.Cancelled(local.size)
		}
		metrics.NegotiationsTotal.WithLabelValues(decisionError).Inc()
		return domain.Failed(domain.NewTransportError("restart approval",
			errors.Join(domain.ErrRestartApprovalFailed, decision.Err)), local.size)
	}
	if !decision.Approved {
		metrics.NegotiationsTotal.WithLabelValues(decisionDeclined).Inc()
		return domain.RestartDeclined(local.size)
	}

	metrics.NegotiationsTotal.WithLabelValues(decisionRestart).Inc()
	e.bridge.Apply(func(t port.Target) {
		t.SetStatus(domain.StatusRestarting)
		t.SetDownloadedBytes(0)
		t.SetProgress(0)
	})
	if err := e.deps.Payload.DiscardPart(local.part); err != nil {
		return domain.Failed(domain.NewTransportError("discard partial file", err), local.size)
	}
	if err := e.deps.Metadata.Delete(local.dest); err != nil {
		e.logger.Warn("failed to delete transfer metadata", zap.Error(err))
	}

	fresh := localState{dest: local.dest, part: local.part}
	resp, err := e.deps.Origin.Fetch(ctx, e.target.URL(), http.Header{})
	if err != nil {
		return e.failure(err, 0)
	}
	return e.handleFresh(ctx, cancel, fresh, resp)
}

func (e *Engine) halt(reason domain.HaltReason, bytes int64, detail string) domain.Outcome {
	metrics.NegotiationsTotal.WithLabelValues(decisionHalted).Inc()
	e.logger.Warn("transfer halted",
		zap.String("reason", string(reason)),
		zap.String("detail", detail))
	return domain.Halted(reason, bytes)
}

// failure converts a request error into an outcome, honouring cancellation
func (e *Engine) failure(err error, bytes int64) domain.Outcome {
	if e.ctl.isCancelled() {
		return domain.Cancelled(bytes)
	}
	if !domain.IsTransport(err) {
		err = domain.NewTransportError("transfer", err)
	}
	return domain.Failed(err, bytes)
}

