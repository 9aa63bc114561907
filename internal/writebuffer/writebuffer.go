// Package writebuffer holds a bounded, mutex-protected queue of Samples
// flushed to persistence either when it fills or on a periodic timer,
// whichever comes first.
package writebuffer

import (
	"context"
	"sync"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/model"
	"go.uber.org/zap"
)

// Persistence is the subset of the storage contract the Write-Buffer needs.
type Persistence interface {
	SaveReading(sample model.Sample) error
}

const (
	defaultCapacity      = 1000
	defaultFlushInterval = 5 * time.Second
)

// Buffer accumulates Samples in capture order and periodically hands them to
// a Persistence backend. Safe for concurrent Append from many Port Runners.
type Buffer struct {
	mu       sync.Mutex
	samples  []model.Sample
	capacity int

	flushInterval time.Duration
	sink          Persistence
	log           *zap.SugaredLogger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Buffer at construction.
type Option func(*Buffer)

// WithCapacity overrides the default bounded size (1000) that triggers an
// immediate flush.
func WithCapacity(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithFlushInterval overrides the default periodic flush interval (5s).
func WithFlushInterval(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(b *Buffer) { b.log = log }
}

// New builds a Buffer backed by sink and starts its background flush timer.
// Call Stop to halt the timer and perform the final flush.
func New(ctx context.Context, sink Persistence, opts ...Option) *Buffer {
	b := &Buffer{
		capacity:      defaultCapacity,
		flushInterval: defaultFlushInterval,
		sink:          sink,
		log:           zap.NewNop().Sugar(),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run(ctx)
	return b
}

// Append adds sample to the buffer in capture order, holding only the
// buffer's own mutex. When the buffer reaches its configured capacity,
// Append runs Flush before returning, so that call waits until the snapshot
// has been written to persistence.
func (b *Buffer) Append(sample model.Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, sample)
	full := len(b.samples) >= b.capacity
	b.mu.Unlock()

	if full {
		b.Flush()
	}
}

// Flush snapshots and clears the live buffer, then writes the snapshot to
// persistence outside the lock. Samples in a snapshot are written
// concurrently; individual save failures are logged and not re-queued
// (at-most-once).
func (b *Buffer) Flush() {
	b.mu.Lock()
	if len(b.samples) == 0 {
		b.mu.Unlock()
		return
	}
	snapshot := b.samples
	b.samples = nil
	b.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(snapshot))
	for _, s := range snapshot {
		s := s
		go func() {
			defer wg.Done()
			if err := b.sink.SaveReading(s); err != nil {
				b.log.Warnw("save reading failed", "device", s.DeviceName, "port", s.PortName, "err", err)
			}
		}()
	}
	wg.Wait()
}

func (b *Buffer) run(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the periodic flush timer and performs one final flush,
// draining anything appended before or during shutdown. The supervisor
// calls it after every runner has stopped, before persistence is closed.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	b.Flush()
}
