package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/transferd/internal/port"
	"go.uber.org/zap"
)

// Config contains maintenance service configuration
type Config struct {
	// Interval is how often housekeeping runs
	Interval time.Duration

	// FinishedRecordMaxAge is how long completed and cancelled records are kept
	FinishedRecordMaxAge time.Duration

	// OrphanSidecarSweep enables removal of resume records without a partial file
	OrphanSidecarSweep bool

	// SidecarMaxAge is how long an orphan sidecar must be untouched before removal
	SidecarMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:             time.Hour,
		FinishedRecordMaxAge: 7 * 24 * time.Hour,
		OrphanSidecarSweep:   true,
		SidecarMaxAge:        24 * time.Hour,
	}
}

// Service handles periodic housekeeping of download records and resume files
type Service struct {
	config    *Config
	downloads port.DownloadRepository
	payload   port.PayloadStore
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, downloads port.DownloadRepository, payload port.PayloadStore, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.FinishedRecordMaxAge == 0 {
		cfg.FinishedRecordMaxAge = 7 * 24 * time.Hour
	}
	if cfg.SidecarMaxAge == 0 {
		cfg.SidecarMaxAge = 24 * time.Hour
	}

	return &Service{
		config:    cfg,
		downloads: downloads,
		payload:   payload,
		logger:    logger,
	}
}

// Start runs housekeeping until ctx is cancelled or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("finished_record_max_age", s.config.FinishedRecordMaxAge),
		zap.Bool("orphan_sidecar_sweep", s.config.OrphanSidecarSweep))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// dirPruner is implemented by payload stores that can drop empty directories
type dirPruner interface {
	CleanEmptyDirs() error
}

// RunOnce performs a single housekeeping pass
func (s *Service) RunOnce() {
	s.cleanupFinished()
	if s.config.OrphanSidecarSweep {
		s.cleanupSidecars()
	}
	if p, ok := s.payload.(dirPruner); ok {
		if err := p.CleanEmptyDirs(); err != nil {
			s.logger.Warn("failed to prune empty directories", zap.Error(err))
		}
	}
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// cleanupFinished removes old completed and cancelled records
func (s *Service) cleanupFinished() {
	if s.downloads == nil {
		return
	}
	cleared, err := s.downloads.CleanupFinished(s.config.FinishedRecordMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup finished downloads", zap.Error(err))
	} else if cleared > 0 {
		s.logger.Info("cleaned up finished downloads", zap.Int("count", cleared))
	}
}

// cleanupSidecars removes resume records whose partial file is gone
func (s *Service) cleanupSidecars() {
	count, err := s.payload.CleanOrphanSidecars("", s.config.SidecarMaxAge)
	if err != nil {
		s.logger.Error("failed to sweep orphan sidecars", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("removed orphan sidecars", zap.Int("count", count))
	}
}
