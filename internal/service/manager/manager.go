package manager

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/metrics"
	"github.com/vertextoedge/transferd/internal/port"
	"github.com/vertextoedge/transferd/internal/service/observer"
	"github.com/vertextoedge/transferd/internal/service/transfer"
)

// Restart policies
const (
	PolicyAsk    = "ask"
	PolicyAlways = "always"
	PolicyNever  = "never"
)

// Config contains orchestrator configuration
type Config struct {
	MaxConcurrent          int
	MaxRetries             int
	RetryBackoff           time.Duration
	RestartPolicy          string
	RestartApprovalTimeout time.Duration // zero waits until the attempt ends
	ResumeOnStartup        bool
	Engine                 transfer.Config
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent: 3,
		MaxRetries:    3,
		RetryBackoff:  time.Minute,
		RestartPolicy: PolicyAsk,
		Engine:        transfer.DefaultConfig(),
	}
}

// Deps are the adapters shared by every transfer
type Deps struct {
	Repo     port.DownloadRepository
	Origin   port.Origin
	Metadata port.MetadataStore
	Payload  port.PayloadStore

	// Resolve maps a caller supplied destination onto an absolute path,
	// rejecting destinations the daemon must not write to
	Resolve func(dest string) (string, error)
}

// handle is the registry entry for one download
type handle struct {
	record  *domain.Download
	target  *observer.Target
	engine  *transfer.Engine
	retry   *time.Timer
	pending *pendingRestart
	queued  bool
}

// Manager owns every download known to the process
type Manager struct {
	config *Config
	deps   Deps
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	items   map[string]*handle
	queue   []string
	active  int
	closing bool
	running bool
	stop    context.CancelFunc
	wg      sync.WaitGroup

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// New creates a new Manager
func New(cfg *Config, deps Deps, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}
	if cfg.RestartPolicy == "" {
		cfg.RestartPolicy = PolicyAsk
	}
	if deps.Resolve == nil {
		deps.Resolve = func(dest string) (string, error) { return dest, nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: cfg,
		deps:   deps,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		items:  make(map[string]*handle),
		subs:   make(map[int]chan Event),
	}
}

// Start recovers stored downloads and blocks until ctx is cancelled or Stop
// is called. Active transfers are then stopped and recorded as interrupted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("manager already running")
	}
	m.running = true
	ctx, m.stop = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.Recover(); err != nil {
		return err
	}

	m.logger.Info("download manager started",
		zap.Int("max_concurrent", m.config.MaxConcurrent),
		zap.String("restart_policy", m.config.RestartPolicy))

	<-ctx.Done()
	m.Shutdown()
	m.logger.Info("download manager stopped")
	return nil
}

// Stop stops the manager
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		m.stop()
	}
	m.running = false
}

// Recover loads stored records. Records left active by a previous run are
// marked interrupted, and restarted when resume_on_startup is set.
func (m *Manager) Recover() error {
	if m.deps.Repo == nil {
		return nil
	}

	interrupted, err := m.deps.Repo.MarkActiveInterrupted()
	if err != nil {
		return fmt.Errorf("failed to mark interrupted downloads: %w", err)
	}
	if interrupted > 0 {
		m.logger.Info("found downloads interrupted by previous run", zap.Int("count", interrupted))
	}

	records, err := m.deps.Repo.ListDownloads()
	if err != nil {
		return fmt.Errorf("failed to load downloads: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Oldest first so queued work keeps its order
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	resumed := 0
	for _, rec := range records {
		if _, ok := m.items[rec.ID]; ok {
			continue
		}
		if rec.MaxRetries == 0 {
			rec.MaxRetries = m.config.MaxRetries
		}
		h := &handle{record: rec, target: seedTarget(rec)}
		m.items[rec.ID] = h

		switch {
		case m.config.ResumeOnStartup && (rec.Status == domain.StatusInterrupted || rec.Status == domain.StatusQueued):
			m.launch(h)
			resumed++
		case rec.Status == domain.StatusFailed && rec.NextRetryAt != nil:
			m.scheduleRetry(h, time.Until(*rec.NextRetryAt))
		}
	}

	m.logger.Info("loaded downloads",
		zap.Int("count", len(records)),
		zap.Int("resumed", resumed))
	return nil
}

// seedTarget rebuilds the observable state of a stored record so the
// negotiator has expectations even without a resume sidecar
func seedTarget(rec *domain.Download) *observer.Target {
	t := observer.NewTarget(rec.URL, rec.DestPath)
	t.SetStatus(rec.Status)
	t.SetDownloadedBytes(rec.DownloadedBytes)
	if rec.TotalBytes > 0 {
		t.SetFileSize(rec.TotalBytes)
		t.SetProgress(float64(rec.DownloadedBytes) * 100 / float64(rec.TotalBytes))
	}
	t.SetETag(rec.ETag)
	t.SetLastModified(rec.LastModified)
	t.SetResumeSupported(rec.ResumeSupported)
	t.SetActiveFilePath(rec.ActivePath)
	return t
}

// Add registers a download without starting it. An empty id gets a UUID and
// an empty dest is derived from the URL path.
func (m *Manager) Add(rawURL, dest, id string) (*View, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be absolute http or https", domain.ErrInvalidInput)
	}
	if dest == "" {
		dest = path.Base(u.Path)
		if dest == "." || dest == "/" {
			return nil, fmt.Errorf("%w: cannot derive a file name from url", domain.ErrInvalidInput)
		}
	}
	dest, err = m.deps.Resolve(dest)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return nil, fmt.Errorf("manager is shutting down")
	}
	if _, ok := m.items[id]; ok {
		return nil, fmt.Errorf("%w: download %s", domain.ErrAlreadyExists, id)
	}
	for _, h := range m.items {
		if h.record.DestPath == dest {
			return nil, fmt.Errorf("%w: destination %s is used by %s", domain.ErrAlreadyExists, dest, h.record.ID)
		}
	}

	now := time.Now()
	rec := &domain.Download{
		ID:         id,
		URL:        rawURL,
		DestPath:   dest,
		Status:     domain.StatusQueued,
		TotalBytes: domain.UnknownLength,
		MaxRetries: m.config.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if m.deps.Repo != nil {
		if err := m.deps.Repo.CreateDownload(rec); err != nil {
			return nil, err
		}
	}

	h := &handle{record: rec, target: observer.NewTarget(rawURL, dest)}
	m.items[id] = h

	m.logger.Info("download added",
		zap.String("id", id),
		zap.String("url", rawURL),
		zap.String("dest", dest))

	v := m.view(h)
	return &v, nil
}

// StartDownload begins a transfer for id, or queues it when every slot is busy.
// A manual start clears retry bookkeeping.
func (m *Manager) StartDownload(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.lookup(id)
	if err != nil {
		return err
	}
	if h.engine != nil || h.queued {
		return domain.ErrAlreadyActive
	}
	if m.closing {
		return fmt.Errorf("manager is shutting down")
	}

	m.stopRetry(h)
	h.record.ResetRetries()
	m.launch(h)
	return nil
}

// Pause holds a running transfer at its next chunk boundary. Queued
// downloads leave the queue and pending retries are dropped.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.lookup(id)
	if err != nil {
		return err
	}
	switch {
	case h.engine != nil:
		h.engine.Pause()
		h.record.Status = domain.StatusPaused
	case h.queued:
		m.dequeue(h)
		m.setStatus(h, domain.StatusPaused)
	case h.retry != nil:
		m.stopRetry(h)
		m.setStatus(h, domain.StatusPaused)
	default:
		return domain.ErrNotActive
	}
	m.persist(h.record)
	return nil
}

// Resume releases a paused transfer, or starts a new attempt when no engine
// is running
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	h, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if h.engine != nil {
		h.engine.Resume()
		h.record.Status = domain.StatusDownloading
		m.mu.Unlock()
		return nil
	}
	status := h.record.Status
	m.mu.Unlock()

	if status == domain.StatusCompleted {
		return domain.ErrNotActive
	}
	return m.StartDownload(id)
}

// Cancel stops a transfer and any pending retry. The partial file and its
// metadata stay in place.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.stopRetry(h)
	switch {
	case h.engine != nil:
		h.engine.Cancel()
		return nil
	case h.queued:
		m.dequeue(h)
	case h.record.Status == domain.StatusCompleted || h.record.Status == domain.StatusCancelled:
		return domain.ErrNotActive
	}
	m.setStatus(h, domain.StatusCancelled)
	m.persist(h.record)
	return nil
}

// Remove forgets a download. With purge, the partial file and its resume
// record are deleted as well.
func (m *Manager) Remove(id string, purge bool) error {
	m.mu.Lock()
	h, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.stopRetry(h)
	if h.queued {
		m.dequeue(h)
	}
	engine := h.engine
	m.mu.Unlock()

	if engine != nil {
		engine.Cancel()
		<-engine.Done()
	}

	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()

	if m.deps.Repo != nil {
		if err := m.deps.Repo.DeleteDownload(id); err != nil {
			return fmt.Errorf("failed to delete download record: %w", err)
		}
	}
	if purge {
		dest := h.record.DestPath
		if err := m.deps.Payload.DiscardPart(m.deps.Payload.PartPath(dest)); err != nil {
			m.logger.Warn("failed to delete partial file", zap.String("dest", dest), zap.Error(err))
		}
		if err := m.deps.Metadata.Delete(dest); err != nil {
			m.logger.Warn("failed to delete transfer metadata", zap.String("dest", dest), zap.Error(err))
		}
	}

	m.logger.Info("download removed", zap.String("id", id), zap.Bool("purge", purge))
	m.publish(Event{Type: EventRemoved, ID: id})
	return nil
}

// Get returns the current view of a download
func (m *Manager) Get(id string) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	v := m.view(h)
	return &v, nil
}

// List returns every download, newest first
func (m *Manager) List() []View {
	m.mu.Lock()
	views := make([]View, 0, len(m.items))
	for _, h := range m.items {
		views = append(views, m.view(h))
	}
	m.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// Stats returns record counts by status
func (m *Manager) Stats() *domain.DownloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &domain.DownloadStats{ByStatus: make(map[domain.Status]int)}
	for _, h := range m.items {
		status := h.target.Status()
		stats.Total++
		stats.ByStatus[status]++
		stats.TotalBytes += h.target.DownloadedBytes()
	}
	return stats
}

// Shutdown cancels every transfer, waits for the engines to persist their
// state and records them as interrupted
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.closing = true
	for _, h := range m.items {
		m.stopRetry(h)
	}
	m.queue = nil
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	for _, h := range m.items {
		if h.queued {
			h.queued = false
			m.setStatus(h, domain.StatusInterrupted)
		}
		m.persist(h.record)
	}
	m.mu.Unlock()

	m.subMu.Lock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.subMu.Unlock()
}

func (m *Manager) lookup(id string) (*handle, error) {
	h, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}
	return h, nil
}

// launch starts an engine when a slot is free and queues otherwise.
// Caller holds m.mu.
func (m *Manager) launch(h *handle) {
	if m.active >= m.config.MaxConcurrent {
		h.queued = true
		m.queue = append(m.queue, h.record.ID)
		m.setStatus(h, domain.StatusQueued)
		m.persist(h.record)
		m.logger.Debug("download queued",
			zap.String("id", h.record.ID),
			zap.Int("position", len(m.queue)))
		return
	}

	engine := transfer.New(h.target, transfer.Deps{
		Origin:   m.deps.Origin,
		Metadata: m.deps.Metadata,
		Payload:  m.deps.Payload,
		Approver: m.approverFor(h.record.ID),
	}, m.config.Engine, m.logger.With(zap.String("id", h.record.ID)))

	h.queued = false
	h.engine = engine
	m.active++
	m.setStatus(h, domain.StatusNegotiating)
	m.persist(h.record)

	m.wg.Add(1)
	go m.watch(h, engine)

	if err := engine.Start(m.ctx); err != nil {
		// Fresh engines cannot be started twice
		m.logger.Error("failed to start engine", zap.String("id", h.record.ID), zap.Error(err))
	}
}

// watch records the outcome of an attempt and frees its slot
func (m *Manager) watch(h *handle, engine *transfer.Engine) {
	defer m.wg.Done()
	<-engine.Done()
	outcome := engine.Outcome()

	m.mu.Lock()
	h.engine = nil
	h.pending = nil
	m.active--

	rec := h.record
	rec.ApplyOutcome(outcome)
	rec.ETag = h.target.ETag()
	rec.LastModified = h.target.LastModified()
	rec.ResumeSupported = h.target.ResumeSupported()
	if outcome.Kind != domain.OutcomeCompleted {
		rec.TotalBytes = h.target.FileSize()
		rec.ActivePath = h.target.ActiveFilePath()
	}

	_, tracked := m.items[rec.ID]
	switch {
	case m.closing && outcome.Kind == domain.OutcomeCancelled:
		m.setStatus(h, domain.StatusInterrupted)
	case outcome.Retryable() && tracked && !m.closing:
		if delay := rec.MarkFailed(rec.LastError, m.config.RetryBackoff); delay > 0 {
			m.scheduleRetry(h, delay)
		}
	}
	rec.UpdatedAt = time.Now()
	if tracked {
		m.persist(rec)
	}
	if !m.closing {
		m.startQueued()
	}
	v := m.view(h)
	m.mu.Unlock()

	if tracked {
		m.publish(Event{Type: EventUpdated, ID: rec.ID, Download: &v})
	}
}

// startQueued fills free slots from the queue. Caller holds m.mu.
func (m *Manager) startQueued() {
	for m.active < m.config.MaxConcurrent && len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		h, ok := m.items[id]
		if !ok || !h.queued {
			continue
		}
		h.queued = false
		m.launch(h)
	}
}

func (m *Manager) dequeue(h *handle) {
	h.queued = false
	for i, id := range m.queue {
		if id == h.record.ID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// scheduleRetry arms a timer for the next automatic attempt. Caller holds m.mu.
func (m *Manager) scheduleRetry(h *handle, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	id := h.record.ID
	metrics.RetriesScheduledTotal.Inc()
	m.logger.Info("scheduling retry",
		zap.String("id", id),
		zap.Int("attempt", h.record.RetryCount),
		zap.Int("max_retries", h.record.MaxRetries),
		zap.String("at", humanize.Time(time.Now().Add(delay))))

	h.retry = time.AfterFunc(delay, func() { m.retry(id) })
}

func (m *Manager) retry(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.items[id]
	if !ok || m.closing || h.retry == nil || h.engine != nil || h.queued {
		return
	}
	h.retry = nil
	h.record.NextRetryAt = nil
	m.launch(h)
}

func (m *Manager) stopRetry(h *handle) {
	if h.retry != nil {
		h.retry.Stop()
		h.retry = nil
	}
	h.record.NextRetryAt = nil
}

// setStatus updates both the record and the observable target
func (m *Manager) setStatus(h *handle, status domain.Status) {
	h.record.Status = status
	h.target.SetStatus(status)
}

func (m *Manager) persist(rec *domain.Download) {
	if m.deps.Repo == nil {
		return
	}
	rec.UpdatedAt = time.Now()
	if err := m.deps.Repo.SaveDownload(rec); err != nil {
		m.logger.Warn("failed to save download record",
			zap.String("id", rec.ID),
			zap.Error(err))
	}
}
