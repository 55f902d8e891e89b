package badger

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/sample"
	"github.com/vlad-oles/gears/pkg/storage"
)

func bucketized(t *testing.T, base time.Time) *rollup.Table {
	t.Helper()
	samples := []sample.Sample{
		{Timestamp: base, Keys: map[string]string{"src": "a"}, Values: map[string]float64{"v": 10}},
		{Timestamp: base.Add(5 * time.Second), Keys: map[string]string{"src": "a"}, Values: map[string]float64{"v": 20}},
		{Timestamp: base.Add(5 * time.Minute), Keys: map[string]string{"src": "a"}, Values: map[string]float64{"v": 30}},
	}
	table, err := rollup.Bucketize(samples, 5*time.Minute, []string{"src"})
	if err != nil {
		t.Fatalf("Bucketize failed: %v", err)
	}
	return table
}

func TestBadgerStorage_WriteAndQuery(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Write(ctx, bucketized(t, base)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := store.Query(ctx, storage.QueryRequest{
		Start:      base.Add(-time.Hour),
		End:        base.Add(time.Hour),
		Resolution: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got.Rows))
	}

	// Sufficient statistics must survive the round trip exactly.
	s := got.Rows[0].Stats["v"]
	if s.Count != 2 || s.Sum != 30 || math.Abs(s.SumSqDiff-50) > 1e-9 {
		t.Errorf("unexpected stats after round trip: %+v", s)
	}
}

func TestBadgerStorage_Persistence(t *testing.T) {
	dir, err := os.MkdirTemp("", "gears-badger-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store, err := New(Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Write(ctx, bucketized(t, base)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen and read back: lossless state re-enters the pipeline.
	store, err = New(Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer store.Close()

	got, err := store.Query(ctx, storage.QueryRequest{
		Start:      base.Add(-time.Hour),
		End:        base.Add(time.Hour),
		Resolution: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("expected 2 rows after reopen, got %d", len(got.Rows))
	}

	// The reloaded table must finalize identically.
	final := rollup.Finalize(got)
	f := final.Rows[0].Stats["v"]
	if f.Mean != 15 {
		t.Errorf("expected mean 15 after reload, got %v", f.Mean)
	}
	f = final.Rows[1].Stats["v"]
	if !math.IsNaN(f.Std) {
		t.Errorf("expected NaN std for single-sample bucket, got %v", f.Std)
	}
}

func TestBadgerStorage_RewriteReplacesAcrossVarSets(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first, err := rollup.Bucketize([]sample.Sample{
		{Timestamp: base, Keys: map[string]string{"src": "a"}, Values: map[string]float64{"v": 10}},
	}, 5*time.Minute, []string{"src"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(ctx, first); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Rewrite the same series and bucket with a different variable set. The
	// record identity is (resolution, bucket, series), so this must replace
	// the first write rather than leave two rows behind.
	second, err := rollup.Bucketize([]sample.Sample{
		{Timestamp: base, Keys: map[string]string{"src": "a"}, Values: map[string]float64{"v": 10, "w": 1}},
	}, 5*time.Minute, []string{"src"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(ctx, second); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := store.Query(ctx, storage.QueryRequest{
		Start:      base.Add(-time.Hour),
		End:        base.Add(time.Hour),
		Resolution: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got.Rows) != 1 {
		t.Fatalf("expected 1 row after rewrite, got %d", len(got.Rows))
	}
	if _, ok := got.Rows[0].Stats["w"]; !ok {
		t.Errorf("rewrite did not take effect: %+v", got.Rows[0].Stats)
	}
}

func TestBadgerStorage_TierIsolation(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fine := bucketized(t, base)
	store.Write(ctx, fine)

	coarse, err := rollup.Coarsen(fine, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	store.Write(ctx, coarse)

	got, err := store.Query(ctx, storage.QueryRequest{
		Start:      base.Add(-time.Hour),
		End:        base.Add(time.Hour),
		Resolution: time.Hour,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got.Rows) != 1 {
		t.Fatalf("expected 1 row in 1h tier, got %d", len(got.Rows))
	}
	if got.Rows[0].Stats["v"].Count != 3 {
		t.Errorf("expected merged count 3, got %d", got.Rows[0].Stats["v"].Count)
	}
}

func TestBadgerStorage_DeleteBefore(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.Write(ctx, bucketized(t, base))

	// Cut between the two buckets.
	err = store.Delete(ctx, storage.DeleteOptions{
		Before:     base.Add(time.Minute),
		Resolution: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := store.Query(ctx, storage.QueryRequest{
		Start:      base.Add(-time.Hour),
		End:        base.Add(time.Hour),
		Resolution: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got.Rows) != 1 {
		t.Fatalf("expected 1 surviving row, got %d", len(got.Rows))
	}
	if !got.Rows[0].Start.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("wrong bucket survived: %v", got.Rows[0].Start)
	}
}

func TestBadgerStorage_ContextCancellation(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Write(ctx, bucketized(t, base)); err == nil {
		t.Error("expected error writing with cancelled context")
	}
	if _, err := store.Query(ctx, storage.QueryRequest{Resolution: 5 * time.Minute}); err == nil {
		t.Error("expected error querying with cancelled context")
	}
}

func TestBadgerStorage_Stats(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.Write(ctx, bucketized(t, base))

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalRows != 2 {
		t.Errorf("expected 2 rows, got %d", stats.TotalRows)
	}
	if stats.TotalSeries != 1 {
		t.Errorf("expected 1 series, got %d", stats.TotalSeries)
	}
}
