// Package batch accumulates samples and ships them in bounded batches.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vlad-oles/gears/pkg/sample"
	"github.com/vlad-oles/gears/pkg/sdk/transport"
)

// Config holds configuration for the batcher.
type Config struct {
	MaxBatchSize int
	FlushEvery   time.Duration
}

// Batcher batches samples and sends them periodically or when full.
type Batcher struct {
	config    Config
	transport transport.Transport

	samples []sample.Sample
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Single-flight flag so a burst of Adds cannot spawn unbounded
	// flush goroutines.
	flushing atomic.Bool
}

// New creates a new batcher.
func New(transport transport.Transport, config Config) *Batcher {
	return &Batcher{
		config:    config,
		transport: transport,
		samples:   make([]sample.Sample, 0, config.MaxBatchSize),
		done:      make(chan struct{}),
	}
}

// Start starts the periodic flush loop.
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Add queues a sample, triggering a background flush when the batch is full.
func (b *Batcher) Add(s sample.Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, s)
	shouldFlush := len(b.samples) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		go func() {
			b.flush()
			b.flushing.Store(false)
		}()
	}
}

// Flush synchronously sends all pending samples.
func (b *Batcher) Flush() error {
	b.mu.Lock()
	if len(b.samples) == 0 {
		b.mu.Unlock()
		return nil
	}

	samples := make([]sample.Sample, len(b.samples))
	copy(samples, b.samples)
	b.samples = b.samples[:0]
	b.mu.Unlock()

	// Not bound to the loop context: Flush must still work after Stop
	// cancels it, or the final drain would be dropped.
	return b.sendSamples(context.Background(), samples)
}

// Stop stops the flush loop and sends whatever is still queued.
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}

	<-b.done

	return b.Flush()
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.flush()
				b.flushing.Store(false)
			}
		}
	}
}

// flush sends in the background so Add never blocks on the network.
func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.samples) == 0 {
		b.mu.Unlock()
		return
	}

	samples := make([]sample.Sample, len(b.samples))
	copy(samples, b.samples)
	b.samples = b.samples[:0]
	b.mu.Unlock()

	go b.sendSamples(b.ctx, samples)
}

func (b *Batcher) sendSamples(ctx context.Context, samples []sample.Sample) error {
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return b.transport.Send(sendCtx, samples)
}
