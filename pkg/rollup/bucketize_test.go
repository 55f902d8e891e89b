package rollup

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/vlad-oles/gears/pkg/sample"
)

// The scenario from the pipeline's reference behavior: three samples at
// 5-minute resolution, grouped by "key", forming one two-sample bucket and
// one single-sample bucket.
func TestBucketize_Scenario(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	samples := []sample.Sample{
		{Timestamp: base, Keys: map[string]string{"key": "A"}, Values: map[string]float64{"v": 10}},
		{Timestamp: base.Add(5 * time.Second), Keys: map[string]string{"key": "A"}, Values: map[string]float64{"v": 20}},
		{Timestamp: base.Add(5 * time.Minute), Keys: map[string]string{"key": "A"}, Values: map[string]float64{"v": 30}},
	}

	table, err := Bucketize(samples, 5*time.Minute, []string{"key"})
	if err != nil {
		t.Fatalf("Bucketize failed: %v", err)
	}

	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(table.Rows))
	}

	first := table.Rows[0]
	if !first.Start.Equal(base) {
		t.Errorf("expected first bucket at %v, got %v", base, first.Start)
	}
	s := first.Stats["v"]
	if s.Count != 2 || s.Sum != 30 || s.Min != 10 || s.Max != 20 {
		t.Errorf("unexpected first bucket stats: %+v", s)
	}
	if math.Abs(s.SumSqDiff-50) > 1e-9 {
		t.Errorf("expected sum_sq_diff 50, got %v", s.SumSqDiff)
	}

	second := table.Rows[1]
	if !second.Start.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("expected second bucket at %v, got %v", base.Add(5*time.Minute), second.Start)
	}
	s = second.Stats["v"]
	if s.Count != 1 || s.Sum != 30 || s.SumSqDiff != 0 || s.Min != 30 || s.Max != 30 {
		t.Errorf("unexpected second bucket stats: %+v", s)
	}

	// Finalizing the same table.
	final := Finalize(table)
	f := final.Rows[0].Stats["v"]
	if f.Mean != 15 {
		t.Errorf("expected mean 15, got %v", f.Mean)
	}
	if math.Abs(f.Std-math.Sqrt(50)) > 1e-9 {
		t.Errorf("expected std %v, got %v", math.Sqrt(50), f.Std)
	}
	f = final.Rows[1].Stats["v"]
	if f.Mean != 30 || !math.IsNaN(f.Std) || f.Min != 30 || f.Max != 30 {
		t.Errorf("unexpected single-sample final stats: %+v", f)
	}
}

func TestBucketize_MultipleSeriesAndVars(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := []sample.Sample{
		{Timestamp: base, Keys: map[string]string{"device": "a"}, Values: map[string]float64{"temp": 20, "rh": 40}},
		{Timestamp: base.Add(time.Second), Keys: map[string]string{"device": "a"}, Values: map[string]float64{"temp": 22, "rh": 42}},
		{Timestamp: base, Keys: map[string]string{"device": "b"}, Values: map[string]float64{"temp": -5}},
	}

	table, err := Bucketize(samples, 15*time.Second, []string{"device"})
	if err != nil {
		t.Fatalf("Bucketize failed: %v", err)
	}

	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows (one per device), got %d", len(table.Rows))
	}
	if len(table.Vars) != 2 || table.Vars[0] != "rh" || table.Vars[1] != "temp" {
		t.Errorf("expected vars [rh temp], got %v", table.Vars)
	}

	a := table.Rows[0]
	if a.Keys["device"] != "a" {
		t.Fatalf("expected device=a first, got %v", a.Keys)
	}
	if a.Stats["temp"].Count != 2 || a.Stats["rh"].Count != 2 {
		t.Errorf("unexpected counts for device=a: %+v", a.Stats)
	}

	b := table.Rows[1]
	if b.Stats["temp"].Count != 1 || b.Stats["temp"].Min != -5 {
		t.Errorf("unexpected stats for device=b: %+v", b.Stats)
	}
	if _, ok := b.Stats["rh"]; ok {
		t.Errorf("device=b never reported rh, but stats exist")
	}
}

func TestBucketize_NoGroupingKeys(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := []sample.Sample{
		{Timestamp: base, Values: map[string]float64{"v": 1}},
		{Timestamp: base.Add(time.Second), Values: map[string]float64{"v": 2}},
	}

	table, err := Bucketize(samples, time.Minute, nil)
	if err != nil {
		t.Fatalf("Bucketize failed: %v", err)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(table.Rows))
	}
	if table.Rows[0].Stats["v"].Count != 2 {
		t.Errorf("expected both samples in one bucket, got %+v", table.Rows[0].Stats["v"])
	}
}

func TestBucketize_InvalidResolution(t *testing.T) {
	if _, err := Bucketize(nil, 0, nil); err == nil {
		t.Fatal("expected error for zero resolution")
	}
}

// Splitting the samples into two arbitrary subsets, bucketizing each, and
// merging the results must equal bucketizing the full set directly.
func TestBucketize_PartitionAssociativity(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	var all, left, right []sample.Sample
	for i := 0; i < 400; i++ {
		s := sample.Sample{
			Timestamp: base.Add(time.Duration(rng.Intn(3600)) * time.Second),
			Keys:      map[string]string{"src": string(rune('a' + rng.Intn(3)))},
			Values:    map[string]float64{"v": rng.NormFloat64() * 10},
		}
		all = append(all, s)
		if rng.Intn(2) == 0 {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	want, err := Bucketize(all, time.Minute, []string{"src"})
	if err != nil {
		t.Fatal(err)
	}
	lt, err := Bucketize(left, time.Minute, []string{"src"})
	if err != nil {
		t.Fatal(err)
	}
	rt, err := Bucketize(right, time.Minute, []string{"src"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := MergeTables(lt, rt)
	if err != nil {
		t.Fatal(err)
	}

	assertTablesEqual(t, want, got, 1e-6)
}

func TestBucketizeParallel_MatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	samples := make([]sample.Sample, 1000)
	for i := range samples {
		samples[i] = sample.Sample{
			Timestamp: base.Add(time.Duration(rng.Intn(7200)) * time.Second),
			Keys:      map[string]string{"src": string(rune('a' + rng.Intn(5)))},
			Values:    map[string]float64{"v": rng.Float64() * 100, "w": rng.NormFloat64()},
		}
	}

	want, err := Bucketize(samples, 5*time.Minute, []string{"src"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := BucketizeParallel(samples, 5*time.Minute, []string{"src"}, 4)
	if err != nil {
		t.Fatal(err)
	}

	assertTablesEqual(t, want, got, 1e-6)
}

// assertTablesEqual compares two lossless tables row by row within a
// floating-point tolerance on sum and sum_sq_diff.
func assertTablesEqual(t *testing.T, want, got *Table, tol float64) {
	t.Helper()
	if len(got.Rows) != len(want.Rows) {
		t.Fatalf("row count: want %d, got %d", len(want.Rows), len(got.Rows))
	}
	for i := range want.Rows {
		wr, gr := want.Rows[i], got.Rows[i]
		if SeriesKey(want.KeyCols, wr.Keys) != SeriesKey(got.KeyCols, gr.Keys) || !wr.Start.Equal(gr.Start) {
			t.Fatalf("row %d identity mismatch: want (%v,%v), got (%v,%v)",
				i, wr.Keys, wr.Start, gr.Keys, gr.Start)
		}
		for name, ws := range wr.Stats {
			statsEqual(t, ws, gr.Stats[name], tol)
		}
	}
}
