package ingest

import (
	"sync"
	"time"

	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/sample"
)

// Buffer holds raw samples between arrival and bucketizing. Samples stay
// buffered until their base-resolution bucket has closed, so each bucket is
// bucketized exactly once and raw data is never re-read afterwards.
type Buffer struct {
	baseRes time.Duration

	mu      sync.Mutex
	samples []sample.Sample
}

// NewBuffer creates a buffer for the given base resolution.
func NewBuffer(baseRes time.Duration) *Buffer {
	return &Buffer{
		baseRes: baseRes,
		samples: make([]sample.Sample, 0, 1024),
	}
}

// Add appends samples to the buffer.
func (b *Buffer) Add(samples ...sample.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, samples...)
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Drain removes and returns all samples whose bucket closed before the
// cutoff: samples in the bucket containing the cutoff itself stay buffered,
// since more samples may still arrive for it.
func (b *Buffer) Drain(cutoff time.Time) []sample.Sample {
	boundary := rollup.FloorTime(cutoff, b.baseRes)

	b.mu.Lock()
	defer b.mu.Unlock()

	var drained []sample.Sample
	kept := b.samples[:0]
	for _, s := range b.samples {
		if s.Timestamp.Before(boundary) {
			drained = append(drained, s)
		} else {
			kept = append(kept, s)
		}
	}
	b.samples = kept
	return drained
}

// DrainAll removes and returns every buffered sample, open buckets
// included. Used on shutdown so nothing is lost.
func (b *Buffer) DrainAll() []sample.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := b.samples
	b.samples = make([]sample.Sample, 0, 1024)
	return drained
}
