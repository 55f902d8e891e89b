package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/vlad-oles/gears/pkg/ingest"
	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/sample"
	"github.com/vlad-oles/gears/pkg/storage"
	"github.com/vlad-oles/gears/pkg/storage/memory"
)

func testConfig() Config {
	return Config{
		BaseResolution:   15 * time.Second,
		MidResolution:    5 * time.Minute,
		CoarseResolution: time.Hour,
		KeyCols:          []string{"host"},
		FineSettle:       time.Hour,
		MidSettle:        6 * time.Hour,
		FineRetention:    24 * time.Hour,
		MidRetention:     14 * 24 * time.Hour,
		FlushWorkers:     2,
	}
}

func TestFlush_OnlyClosedBuckets(t *testing.T) {
	store := memory.New()
	defer store.Close()

	cfg := testConfig()
	buf := ingest.NewBuffer(cfg.BaseResolution)
	p := New(store, buf, cfg)

	now := time.Now().UTC()
	old := now.Add(-time.Minute)
	buf.Add(
		sample.Sample{Timestamp: old, Keys: map[string]string{"host": "a"}, Values: map[string]float64{"temp": 10}},
		sample.Sample{Timestamp: old, Keys: map[string]string{"host": "a"}, Values: map[string]float64{"temp": 20}},
		sample.Sample{Timestamp: now, Keys: map[string]string{"host": "a"}, Values: map[string]float64{"temp": 99}},
	)

	n, err := p.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 bucket flushed, got %d", n)
	}

	// The sample in the still-open bucket stays buffered.
	if buf.Len() != 1 {
		t.Errorf("expected 1 sample left buffered, got %d", buf.Len())
	}

	table, err := store.Query(context.Background(), storage.QueryRequest{
		Start:      old.Add(-time.Minute),
		End:        now,
		Resolution: cfg.BaseResolution,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("expected 1 stored row, got %d", len(table.Rows))
	}
	st := table.Rows[0].Stats["temp"]
	if st.Count != 2 || st.Sum != 30 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestFlushAll_DrainsOpenBuckets(t *testing.T) {
	store := memory.New()
	defer store.Close()

	cfg := testConfig()
	buf := ingest.NewBuffer(cfg.BaseResolution)
	p := New(store, buf, cfg)

	buf.Add(sample.Sample{
		Timestamp: time.Now().UTC(),
		Keys:      map[string]string{"host": "a"},
		Values:    map[string]float64{"temp": 5},
	})

	n, err := p.FlushAll(context.Background())
	if err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 bucket flushed, got %d", n)
	}
	if buf.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", buf.Len())
	}
}

func TestFlush_FoldsStoredPartialBucket(t *testing.T) {
	store := memory.New()
	defer store.Close()

	cfg := testConfig()
	buf := ingest.NewBuffer(cfg.BaseResolution)
	p := New(store, buf, cfg)
	ctx := context.Background()

	// Shutdown drains a bucket that is still open; two of its samples land
	// in storage as a partial record.
	open := time.Now().UTC()
	buf.Add(
		sample.Sample{Timestamp: open, Keys: map[string]string{"host": "a"}, Values: map[string]float64{"temp": 10}},
		sample.Sample{Timestamp: open, Keys: map[string]string{"host": "a"}, Values: map[string]float64{"temp": 20}},
	)
	if _, err := p.FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	// After restart the bucket's last sample arrives and is flushed on its
	// own. The stored partial must be folded in, not overwritten.
	buf2 := ingest.NewBuffer(cfg.BaseResolution)
	p2 := New(store, buf2, cfg)
	buf2.Add(sample.Sample{Timestamp: open, Keys: map[string]string{"host": "a"}, Values: map[string]float64{"temp": 30}})
	if _, err := p2.FlushAll(ctx); err != nil {
		t.Fatalf("second FlushAll: %v", err)
	}

	table, err := store.Query(ctx, storage.QueryRequest{
		Start:      open.Add(-time.Minute),
		End:        open.Add(time.Minute),
		Resolution: cfg.BaseResolution,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("expected 1 stored row, got %d", len(table.Rows))
	}
	st := table.Rows[0].Stats["temp"]
	if st.Count != 3 || st.Sum != 60 || st.Min != 10 || st.Max != 30 {
		t.Errorf("partial bucket not merged: %+v", st)
	}
	// 10, 20, 30: mean 20, sum of squared differences 200.
	if math.Abs(st.SumSqDiff-200) > 1e-9 {
		t.Errorf("expected SumSqDiff 200, got %v", st.SumSqDiff)
	}
}

func TestRunRetention_CoarsensAndDeletes(t *testing.T) {
	store := memory.New()
	defer store.Close()

	cfg := testConfig()
	p := New(store, ingest.NewBuffer(cfg.BaseResolution), cfg)
	ctx := context.Background()

	// Fine buckets old enough to be settled but not yet expired.
	base := rollup.FloorTime(time.Now().Add(-3*time.Hour), cfg.MidResolution)
	var samples []sample.Sample
	for i, v := range []float64{10, 20, 30, 40} {
		samples = append(samples, sample.Sample{
			Timestamp: base.Add(time.Duration(i) * cfg.BaseResolution),
			Keys:      map[string]string{"host": "a"},
			Values:    map[string]float64{"temp": v},
		})
	}
	fine, err := rollup.Bucketize(samples, cfg.BaseResolution, cfg.KeyCols)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if err := store.Write(ctx, fine); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := p.RunRetention(ctx); err != nil {
		t.Fatalf("RunRetention: %v", err)
	}

	mid, err := store.Query(ctx, storage.QueryRequest{
		Start:      base.Add(-time.Hour),
		End:        base.Add(time.Hour),
		Resolution: cfg.MidResolution,
	})
	if err != nil {
		t.Fatalf("Query mid tier: %v", err)
	}
	if len(mid.Rows) != 1 {
		t.Fatalf("expected 1 mid-tier row, got %d", len(mid.Rows))
	}
	st := mid.Rows[0].Stats["temp"]
	if st.Count != 4 || st.Sum != 100 || st.Min != 10 || st.Max != 40 {
		t.Errorf("unexpected mid-tier stats: %+v", st)
	}

	// Fine buckets are within retention and must survive.
	fineAfter, err := store.Query(ctx, storage.QueryRequest{
		Start:      base.Add(-time.Hour),
		End:        base.Add(time.Hour),
		Resolution: cfg.BaseResolution,
	})
	if err != nil {
		t.Fatalf("Query fine tier: %v", err)
	}
	if len(fineAfter.Rows) != 4 {
		t.Errorf("expected 4 fine rows to survive, got %d", len(fineAfter.Rows))
	}

	// A second pass recomputes the same mid bucket from the same fine data.
	if err := p.RunRetention(ctx); err != nil {
		t.Fatalf("second RunRetention: %v", err)
	}
	mid2, err := store.Query(ctx, storage.QueryRequest{
		Start:      base.Add(-time.Hour),
		End:        base.Add(time.Hour),
		Resolution: cfg.MidResolution,
	})
	if err != nil {
		t.Fatalf("Query mid tier again: %v", err)
	}
	if len(mid2.Rows) != 1 || mid2.Rows[0].Stats["temp"].Count != 4 {
		t.Errorf("retention pass is not idempotent: %+v", mid2.Rows)
	}
}

func TestRunRetention_DeletesExpiredFine(t *testing.T) {
	store := memory.New()
	defer store.Close()

	cfg := testConfig()
	cfg.FineRetention = 2 * time.Hour
	p := New(store, ingest.NewBuffer(cfg.BaseResolution), cfg)
	ctx := context.Background()

	old := rollup.FloorTime(time.Now().Add(-5*time.Hour), cfg.MidResolution)
	fine, err := rollup.Bucketize([]sample.Sample{{
		Timestamp: old,
		Keys:      map[string]string{"host": "a"},
		Values:    map[string]float64{"temp": 42},
	}}, cfg.BaseResolution, cfg.KeyCols)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if err := store.Write(ctx, fine); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := p.RunRetention(ctx); err != nil {
		t.Fatalf("RunRetention: %v", err)
	}

	gone, err := store.Query(ctx, storage.QueryRequest{
		Start:      old.Add(-time.Hour),
		End:        old.Add(time.Hour),
		Resolution: cfg.BaseResolution,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(gone.Rows) != 0 {
		t.Errorf("expected expired fine buckets deleted, got %d rows", len(gone.Rows))
	}
}

func TestSummarize_FallsBackToFinerTier(t *testing.T) {
	store := memory.New()
	defer store.Close()

	cfg := testConfig()
	p := New(store, ingest.NewBuffer(cfg.BaseResolution), cfg)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fine, err := rollup.Bucketize([]sample.Sample{
		{Timestamp: base, Keys: map[string]string{"host": "a"}, Values: map[string]float64{"temp": 10}},
		{Timestamp: base.Add(30 * time.Second), Keys: map[string]string{"host": "a"}, Values: map[string]float64{"temp": 20}},
	}, cfg.BaseResolution, cfg.KeyCols)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if err := store.Write(ctx, fine); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// No 5m tier exists yet; the summary coarsens the fine tier on the fly.
	final, err := p.Summarize(ctx, cfg.MidResolution, base.Add(-time.Hour), base.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(final.Rows) != 1 {
		t.Fatalf("expected 1 final row, got %d", len(final.Rows))
	}
	fs := final.Rows[0].Stats["temp"]
	if fs.Mean != 15 || fs.Min != 10 || fs.Max != 20 {
		t.Errorf("unexpected summary: %+v", fs)
	}
	if want := math.Sqrt(50); math.Abs(fs.Std-want) > 1e-9 {
		t.Errorf("expected std %v, got %v", want, fs.Std)
	}
}

func TestSummarize_KeyFilter(t *testing.T) {
	store := memory.New()
	defer store.Close()

	cfg := testConfig()
	p := New(store, ingest.NewBuffer(cfg.BaseResolution), cfg)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fine, err := rollup.Bucketize([]sample.Sample{
		{Timestamp: base, Keys: map[string]string{"host": "a"}, Values: map[string]float64{"temp": 10}},
		{Timestamp: base, Keys: map[string]string{"host": "b"}, Values: map[string]float64{"temp": 99}},
	}, cfg.BaseResolution, cfg.KeyCols)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if err := store.Write(ctx, fine); err != nil {
		t.Fatalf("Write: %v", err)
	}

	final, err := p.Summarize(ctx, cfg.BaseResolution, base.Add(-time.Hour), base.Add(time.Hour),
		map[string]string{"host": "b"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(final.Rows) != 1 {
		t.Fatalf("expected 1 final row, got %d", len(final.Rows))
	}
	if final.Rows[0].Keys["host"] != "b" || final.Rows[0].Stats["temp"].Mean != 99 {
		t.Errorf("key filter not applied: %+v", final.Rows[0])
	}
}
