package observer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/port"
)

// update is one queued mutation. Exactly one field is set.
type update struct {
	progress *domain.Progress
	fn       func(port.Target)
}

// Bridge serialises all writes to a target through a single goroutine.
// Progress reports coalesce while queued; other updates keep their order,
// so a progress report never lands after an update queued later.
type Bridge struct {
	target port.Target
	logger *zap.Logger

	mu     sync.Mutex
	queue  []update
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewBridge creates a bridge and starts its writer
func NewBridge(target port.Target, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		target: target,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Report queues a progress snapshot. It never blocks; a snapshot still
// waiting in the queue is replaced by the newer one.
func (b *Bridge) Report(p domain.Progress) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if n := len(b.queue); n > 0 && b.queue[n-1].progress != nil {
		b.queue[n-1].progress = &p
	} else {
		b.queue = append(b.queue, update{progress: &p})
	}
	b.mu.Unlock()
	b.signal()
}

// Apply queues an arbitrary mutation behind everything already queued
func (b *Bridge) Apply(fn func(port.Target)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, update{fn: fn})
	b.mu.Unlock()
	b.signal()
}

// SetStatus queues a status change
func (b *Bridge) SetStatus(status domain.Status) {
	b.Apply(func(t port.Target) { t.SetStatus(status) })
}

// Close drains the queue and stops the writer. Later updates are dropped.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
	<-b.done
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) run() {
	defer close(b.done)

	for {
		b.mu.Lock()
		items := b.queue
		b.queue = nil
		closed := b.closed
		b.mu.Unlock()

		for _, item := range items {
			b.apply(item)
		}

		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-b.wake
	}
}

func (b *Bridge) apply(item update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("target update panicked", zap.Any("panic", r))
		}
	}()

	if item.fn != nil {
		item.fn(b.target)
		return
	}

	p := item.progress
	if p.Status != "" {
		b.target.SetStatus(p.Status)
	}
	b.target.SetDownloadedBytes(p.Downloaded)
	if p.Total > 0 {
		b.target.SetFileSize(p.Total)
	}
	b.target.SetDownloadSpeed(p.Speed)
	b.target.SetRemainingTime(p.Remaining)
	b.target.SetProgress(p.Percent)
}
