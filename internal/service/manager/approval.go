package manager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/port"
)

// pendingRestart is an unanswered restart request
type pendingRestart struct {
	reason  string
	since   time.Time
	decided chan bool
}

// approverFor returns the restart approver for a download per the configured policy
func (m *Manager) approverFor(id string) port.RestartApprover {
	switch m.config.RestartPolicy {
	case PolicyAlways:
		return port.RestartApproverFunc(func(ctx context.Context, reason string) (bool, error) {
			m.logger.Info("restart approved by policy", zap.String("id", id), zap.String("reason", reason))
			return true, nil
		})
	case PolicyNever:
		return nil
	default:
		return port.RestartApproverFunc(func(ctx context.Context, reason string) (bool, error) {
			return m.awaitApproval(ctx, id, reason)
		})
	}
}

// awaitApproval parks the request until ResolveRestart answers it, the
// attempt ends or the approval timeout elapses
func (m *Manager) awaitApproval(ctx context.Context, id, reason string) (bool, error) {
	p := &pendingRestart{reason: reason, since: time.Now(), decided: make(chan bool, 1)}

	m.mu.Lock()
	h, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}
	h.pending = p
	m.setStatus(h, domain.StatusRestartRequired)
	v := m.view(h)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if h.pending == p {
			h.pending = nil
		}
		m.mu.Unlock()
	}()

	m.logger.Info("waiting for restart approval", zap.String("id", id), zap.String("reason", reason))
	m.publish(Event{Type: EventRestartRequired, ID: id, Reason: reason, Download: &v})

	var timeout <-chan time.Time
	if m.config.RestartApprovalTimeout > 0 {
		timer := time.NewTimer(m.config.RestartApprovalTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case approved := <-p.decided:
		return approved, nil
	case <-timeout:
		return false, domain.ErrApprovalTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ResolveRestart answers a pending restart request. A download that already
// ended as restart_required is restarted from scratch when approved.
func (m *Manager) ResolveRestart(id string, approve bool) error {
	m.mu.Lock()
	h, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if p := h.pending; p != nil {
		h.pending = nil
		m.mu.Unlock()
		select {
		case p.decided <- approve:
		default:
		}
		m.logger.Info("restart decision received", zap.String("id", id), zap.Bool("approved", approve))
		return nil
	}

	if h.engine != nil || h.record.Status != domain.StatusRestartRequired {
		m.mu.Unlock()
		return domain.ErrNoPendingRestart
	}
	dest := h.record.DestPath
	m.mu.Unlock()

	if !approve {
		return nil
	}

	if err := m.deps.Payload.DiscardPart(m.deps.Payload.PartPath(dest)); err != nil {
		return fmt.Errorf("failed to discard partial file: %w", err)
	}
	if err := m.deps.Metadata.Delete(dest); err != nil {
		m.logger.Warn("failed to delete transfer metadata", zap.String("dest", dest), zap.Error(err))
	}

	m.mu.Lock()
	h.record.DownloadedBytes = 0
	h.record.ETag = ""
	h.record.LastModified = ""
	h.record.TotalBytes = domain.UnknownLength
	h.target.SetDownloadedBytes(0)
	h.target.SetProgress(0)
	h.target.SetETag("")
	h.target.SetLastModified("")
	h.target.SetFileSize(domain.UnknownLength)
	m.mu.Unlock()

	m.logger.Info("restarting download from scratch", zap.String("id", id))
	return m.StartDownload(id)
}
