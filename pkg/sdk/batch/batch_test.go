package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vlad-oles/gears/pkg/sample"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  [][]sample.Sample
	total int
}

func (f *fakeTransport) Send(ctx context.Context, samples []sample.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, samples)
	f.total += len(samples)
	return nil
}

func (f *fakeTransport) sentTotal() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func newSample(v float64) sample.Sample {
	return sample.Sample{
		Timestamp: time.Now().UTC(),
		Values:    map[string]float64{"v": v},
	}
}

func TestBatcher_ManualFlush(t *testing.T) {
	ft := &fakeTransport{}
	b := New(ft, Config{MaxBatchSize: 100, FlushEvery: time.Minute})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	b.Add(newSample(1))
	b.Add(newSample(2))

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := ft.sentTotal(); got != 2 {
		t.Errorf("sent %d samples, want 2", got)
	}

	// Empty flush is a no-op.
	if err := b.Flush(); err != nil {
		t.Fatalf("empty Flush: %v", err)
	}
	if got := ft.sentTotal(); got != 2 {
		t.Errorf("empty flush sent samples: total %d", got)
	}
}

func TestBatcher_FlushOnFullBatch(t *testing.T) {
	ft := &fakeTransport{}
	b := New(ft, Config{MaxBatchSize: 5, FlushEvery: time.Minute})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	for i := 0; i < 5; i++ {
		b.Add(newSample(float64(i)))
	}

	// The full-batch flush runs in the background.
	deadline := time.Now().Add(2 * time.Second)
	for ft.sentTotal() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ft.sentTotal(); got != 5 {
		t.Errorf("sent %d samples after full batch, want 5", got)
	}
}

func TestBatcher_PeriodicFlush(t *testing.T) {
	ft := &fakeTransport{}
	b := New(ft, Config{MaxBatchSize: 100, FlushEvery: 50 * time.Millisecond})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	b.Add(newSample(1))

	deadline := time.Now().Add(2 * time.Second)
	for ft.sentTotal() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ft.sentTotal(); got != 1 {
		t.Errorf("periodic flush sent %d samples, want 1", got)
	}
}

func TestBatcher_StopDrains(t *testing.T) {
	ft := &fakeTransport{}
	b := New(ft, Config{MaxBatchSize: 100, FlushEvery: time.Minute})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b.Add(newSample(1))
	b.Add(newSample(2))

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := ft.sentTotal(); got != 2 {
		t.Errorf("Stop drained %d samples, want 2", got)
	}
}
