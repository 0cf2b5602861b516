package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/metrics"
	"github.com/vertextoedge/transferd/internal/port"
	"github.com/vertextoedge/transferd/internal/service/observer"
)

var tracer trace.Tracer = otel.Tracer("github.com/vertextoedge/transferd/internal/service/transfer")

// Config contains transfer engine configuration
type Config struct {
	ChunkSize        int
	ProgressInterval time.Duration
	PersistInterval  time.Duration
	ReadTimeout      time.Duration
	MinFreeSpace     uint64 // bytes kept free on the destination volume
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		ChunkSize:        8 * 1024,
		ProgressInterval: 500 * time.Millisecond,
		PersistInterval:  5 * time.Second,
		ReadTimeout:      60 * time.Second,
	}
}

// Deps are the collaborators an engine talks to
type Deps struct {
	Origin   port.Origin
	Metadata port.MetadataStore
	Payload  port.PayloadStore

	// Approver decides whether a partial file may be discarded.
	// Without one every restart is declined.
	Approver port.RestartApprover
}

// Engine runs one transfer attempt for a target
type Engine struct {
	target port.Target
	deps   Deps
	config Config
	logger *zap.Logger

	bridge *observer.Bridge
	ctl    *control

	mu      sync.Mutex
	started bool
	outcome domain.Outcome
	done    chan struct{}
}

// New creates an engine for target
func New(target port.Target, deps Deps, cfg Config, logger *zap.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaults.ProgressInterval
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = defaults.PersistInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		target: target,
		deps:   deps,
		config: cfg,
		logger: logger.With(zap.String("url", target.URL())),
		ctl:    newControl(),
		done:   make(chan struct{}),
	}
}

// Start launches the attempt in its own goroutine
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return domain.ErrEngineStarted
	}
	e.started = true
	e.mu.Unlock()

	go func() {
		outcome := e.run(ctx)

		e.mu.Lock()
		e.outcome = outcome
		e.mu.Unlock()
		close(e.done)
	}()
	return nil
}

// Pause asks the transfer loop to stop at the next chunk boundary and wait
func (e *Engine) Pause() {
	e.ctl.pause()
}

// Resume releases a paused transfer
func (e *Engine) Resume() {
	e.ctl.resume()
}

// Cancel stops the attempt, leaving the partial file and its metadata in place
func (e *Engine) Cancel() {
	e.ctl.cancel()
}

// Paused reports whether a pause is in effect
func (e *Engine) Paused() bool {
	return e.ctl.isPaused()
}

// Done is closed once the attempt has ended and the target holds its final state
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Outcome returns how the attempt ended. Valid after Done is closed.
func (e *Engine) Outcome() domain.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome
}

func (e *Engine) run(parent context.Context) domain.Outcome {
	e.bridge = observer.NewBridge(e.target, e.logger)
	defer e.bridge.Close()

	metrics.ActiveTransfers.Inc()
	defer metrics.ActiveTransfers.Dec()

	// The attempt context ends only through the control, so cancellation of
	// the caller's context is always observed as a user cancel.
	dest := e.target.ResolveTargetFilePath()
	ctx, span := tracer.Start(context.WithoutCancel(parent), "transfer.attempt", trace.WithAttributes(
		attribute.String("transfer.url", e.target.URL()),
		attribute.String("transfer.dest", dest),
	))
	defer span.End()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	e.ctl.bind(func() { cancel(context.Canceled) })
	stop := context.AfterFunc(parent, e.ctl.cancel)
	defer stop()

	started := time.Now()
	outcome := e.attempt(ctx, cancel, dest)
	e.report(outcome)

	metrics.OutcomesTotal.WithLabelValues(outcome.Kind.String()).Inc()
	span.SetAttributes(
		attribute.String("transfer.outcome", outcome.Kind.String()),
		attribute.Int64("transfer.bytes", outcome.Bytes),
	)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}

	fields := []zap.Field{
		zap.String("dest", dest),
		zap.String("outcome", outcome.String()),
		zap.String("size", humanize.Bytes(uint64(max(outcome.Bytes, 0)))),
		zap.Duration("elapsed", time.Since(started)),
	}
	if outcome.Kind == domain.OutcomeFailed {
		e.logger.Warn("transfer attempt failed", fields...)
	} else {
		e.logger.Info("transfer attempt finished", fields...)
	}
	return outcome
}

// report publishes the terminal state. Completed targets were already
// updated by the finalizer.
func (e *Engine) report(o domain.Outcome) {
	if o.Kind == domain.OutcomeCompleted {
		return
	}
	status := o.Status()
	bytes := o.Bytes
	e.bridge.Apply(func(t port.Target) {
		t.SetDownloadedBytes(bytes)
		t.SetDownloadSpeed(0)
		t.SetRemainingTime(domain.UnknownRemaining)
		t.SetStatus(status)
	})
}

// saveMetadata writes the resume record; failures only cost resumability
func (e *Engine) saveMetadata(dest string, meta *domain.Metadata) {
	if err := e.deps.Metadata.Save(dest, meta); err != nil {
		metrics.MetadataSaveFailuresTotal.Inc()
		e.logger.Warn("failed to persist transfer metadata",
			zap.String("dest", dest),
			zap.Error(err))
	}
}
