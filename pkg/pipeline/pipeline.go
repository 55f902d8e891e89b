package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vlad-oles/gears/pkg/config"
	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/sample"
	"github.com/vlad-oles/gears/pkg/storage"
)

var (
	bucketsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gears_buckets_flushed_total",
		Help: "Lossless base-resolution buckets written by flush passes.",
	})
	coarsenRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gears_coarsen_runs_total",
		Help: "Completed coarsening passes.",
	})
	rollupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gears_rollup_failures_total",
		Help: "Failed flush, coarsen or retention passes.",
	})
)

// SampleSource supplies buffered raw samples to flush passes. Implemented
// by ingest.Buffer.
type SampleSource interface {
	// Drain returns samples whose base-resolution bucket closed before cutoff.
	Drain(cutoff time.Time) []sample.Sample

	// DrainAll returns every buffered sample, open buckets included.
	DrainAll() []sample.Sample
}

// Config holds the pipeline's resolution tiers and scheduling windows.
type Config struct {
	// Resolution tiers, finest first. BaseResolution is the bucketizing
	// resolution; the retention job coarsens settled data up the tiers.
	BaseResolution   time.Duration
	MidResolution    time.Duration
	CoarseResolution time.Duration

	// Grouping-key column names, in schema order.
	KeyCols []string

	// Settle windows: how long a tier's buckets are left untouched before
	// being coarsened, and retention: how long each tier is kept once the
	// coarser tier covers it.
	FineSettle    time.Duration
	MidSettle     time.Duration
	FineRetention time.Duration
	MidRetention  time.Duration

	// Workers for sharded bucketizing during flushes.
	FlushWorkers int
}

// DefaultConfig returns the standard tier layout (15s -> 5m -> 1h).
func DefaultConfig(keyCols []string) Config {
	return Config{
		BaseResolution:   config.BaseResolution,
		MidResolution:    config.MidResolution,
		CoarseResolution: config.CoarseResolution,
		KeyCols:          keyCols,
		FineSettle:       config.FineSettleWindow,
		MidSettle:        config.MidSettleWindow,
		FineRetention:    config.FineRetention,
		MidRetention:     config.MidRetention,
		FlushWorkers:     config.FlushWorkers,
	}
}

// Pipeline drives the three aggregation stages against storage: flushing
// buffered samples into lossless fine buckets, coarsening settled tiers,
// and deleting tiers the coarser data has superseded. All heavy lifting
// is in package rollup; the pipeline only moves tables between the buffer
// and storage.
type Pipeline struct {
	store  storage.Storage
	source SampleSource
	cfg    Config
}

// New creates a pipeline.
func New(store storage.Storage, source SampleSource, cfg Config) *Pipeline {
	if cfg.FlushWorkers <= 0 {
		cfg.FlushWorkers = 1
	}
	return &Pipeline{store: store, source: source, cfg: cfg}
}

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Flush bucketizes all closed base-resolution buckets from the sample
// source and persists them. Raw samples are consumed exactly once; after
// this pass only their lossless statistics exist.
func (p *Pipeline) Flush(ctx context.Context) (int, error) {
	return p.flush(ctx, p.source.Drain(time.Now()))
}

// FlushAll flushes everything including still-open buckets. Used on
// shutdown so buffered samples are not lost; when the rest of a bucket's
// samples arrive after restart, flush folds the stored partial back in
// before rewriting, so nothing is dropped.
func (p *Pipeline) FlushAll(ctx context.Context) (int, error) {
	return p.flush(ctx, p.source.DrainAll())
}

func (p *Pipeline) flush(ctx context.Context, samples []sample.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	table, err := rollup.BucketizeParallel(samples, p.cfg.BaseResolution, p.cfg.KeyCols, p.cfg.FlushWorkers)
	if err != nil {
		rollupFailures.Inc()
		return 0, fmt.Errorf("failed to bucketize %d samples: %w", len(samples), err)
	}
	merged, err := p.foldStored(ctx, table)
	if err != nil {
		rollupFailures.Inc()
		return 0, fmt.Errorf("failed to merge stored fine buckets: %w", err)
	}
	if err := p.store.Write(ctx, merged); err != nil {
		rollupFailures.Inc()
		return 0, fmt.Errorf("failed to write fine buckets: %w", err)
	}
	bucketsFlushed.Add(float64(len(table.Rows)))
	return len(table.Rows), nil
}

// foldStored merges already-persisted fine rows for the buckets the fresh
// table touches back into it. Storage replaces by (resolution, bucket,
// series) identity, so a bucket written twice (a shutdown drain of a
// still-open bucket, then its remaining samples after restart) would
// otherwise lose the first write. Each raw sample is drained exactly once,
// so the merge never double-counts.
func (p *Pipeline) foldStored(ctx context.Context, table *rollup.Table) (*rollup.Table, error) {
	if len(table.Rows) == 0 {
		return table, nil
	}

	minStart, maxStart := table.Rows[0].Start, table.Rows[0].Start
	for _, row := range table.Rows[1:] {
		if row.Start.Before(minStart) {
			minStart = row.Start
		}
		if row.Start.After(maxStart) {
			maxStart = row.Start
		}
	}
	stored, err := p.store.Query(ctx, storage.QueryRequest{
		Start:      minStart,
		End:        maxStart,
		Resolution: table.Resolution,
	})
	if err != nil {
		return nil, err
	}
	if len(stored.Rows) == 0 {
		return table, nil
	}

	// Keep only stored rows whose identity the fresh table rewrites;
	// untouched rows would just be rewritten with their current value.
	rowID := func(keys map[string]string, start time.Time) string {
		return rollup.SeriesKey(table.KeyCols, keys) + "@" + strconv.FormatInt(start.Unix(), 10)
	}
	touched := make(map[string]bool, len(table.Rows))
	for _, row := range table.Rows {
		touched[rowID(row.Keys, row.Start)] = true
	}
	overlap := &rollup.Table{
		Resolution: stored.Resolution,
		KeyCols:    stored.KeyCols,
		Vars:       stored.Vars,
	}
	for _, row := range stored.Rows {
		if touched[rowID(row.Keys, row.Start)] {
			overlap.Rows = append(overlap.Rows, row)
		}
	}
	if len(overlap.Rows) == 0 {
		return table, nil
	}
	return rollup.MergeTables(overlap, table)
}

// CoarsenRange reads the lossless tier at `from` within [start, end],
// coarsens it to `to`, and persists the result. Rewriting an existing
// coarse bucket from the same fine data is idempotent.
func (p *Pipeline) CoarsenRange(ctx context.Context, from, to time.Duration, start, end time.Time) error {
	fine, err := p.store.Query(ctx, storage.QueryRequest{
		Start:      start,
		End:        end,
		Resolution: from,
	})
	if err != nil {
		return fmt.Errorf("failed to query %v tier: %w", from, err)
	}
	if len(fine.Rows) == 0 {
		return nil
	}

	coarse, err := rollup.Coarsen(fine, to)
	if err != nil {
		return fmt.Errorf("failed to coarsen %v to %v: %w", from, to, err)
	}
	if err := p.store.Write(ctx, coarse); err != nil {
		return fmt.Errorf("failed to write %v tier: %w", to, err)
	}
	return nil
}

// RunRetention performs the scheduled multi-tier rollup: coarsen settled
// fine buckets into the mid tier, settled mid buckets into the coarse
// tier, and delete tiers the coarser data has superseded.
//
// Coarsen windows and delete cutoffs are aligned to the target tier's
// bucket width, so a coarse bucket is never recomputed from a partially
// deleted window. Retention passes are idempotent; re-running after a
// failure is safe.
func (p *Pipeline) RunRetention(ctx context.Context) error {
	now := time.Now()

	// Step 1: fine -> mid for settled, not-yet-expired fine buckets.
	fineCut := rollup.FloorTime(now.Add(-p.cfg.FineRetention), p.cfg.MidResolution)
	fineSettled := rollup.FloorTime(now.Add(-p.cfg.FineSettle), p.cfg.MidResolution)
	if err := p.CoarsenRange(ctx, p.cfg.BaseResolution, p.cfg.MidResolution, fineCut, fineSettled); err != nil {
		rollupFailures.Inc()
		return fmt.Errorf("fine-tier coarsening failed: %w", err)
	}

	// Step 2: delete fine buckets the mid tier now covers.
	if err := p.store.Delete(ctx, storage.DeleteOptions{
		Before:     fineCut,
		Resolution: p.cfg.BaseResolution,
	}); err != nil {
		rollupFailures.Inc()
		return fmt.Errorf("failed to delete expired fine buckets: %w", err)
	}

	// Step 3: mid -> coarse for settled, not-yet-expired mid buckets.
	midCut := rollup.FloorTime(now.Add(-p.cfg.MidRetention), p.cfg.CoarseResolution)
	midSettled := rollup.FloorTime(now.Add(-p.cfg.MidSettle), p.cfg.CoarseResolution)
	if err := p.CoarsenRange(ctx, p.cfg.MidResolution, p.cfg.CoarseResolution, midCut, midSettled); err != nil {
		rollupFailures.Inc()
		return fmt.Errorf("mid-tier coarsening failed: %w", err)
	}

	// Step 4: delete mid buckets the coarse tier now covers.
	if err := p.store.Delete(ctx, storage.DeleteOptions{
		Before:     midCut,
		Resolution: p.cfg.MidResolution,
	}); err != nil {
		rollupFailures.Inc()
		return fmt.Errorf("failed to delete expired mid buckets: %w", err)
	}

	coarsenRuns.Inc()
	return nil
}

// Summarize reads lossless data covering [start, end] and returns final
// statistics at the requested resolution. If the exact tier holds no rows,
// the finest finer tier that does is coarsened on the fly; the result is
// identical either way, which is the point of lossless aggregates.
func (p *Pipeline) Summarize(ctx context.Context, res time.Duration, start, end time.Time, keys map[string]string) (*rollup.FinalTable, error) {
	table, err := p.store.Query(ctx, storage.QueryRequest{
		Start:      start,
		End:        end,
		Resolution: res,
		Keys:       keys,
	})
	if err != nil {
		return nil, err
	}

	if len(table.Rows) == 0 {
		for _, tier := range []time.Duration{p.cfg.BaseResolution, p.cfg.MidResolution} {
			if tier >= res || res%tier != 0 {
				continue
			}
			finer, err := p.store.Query(ctx, storage.QueryRequest{
				Start:      start,
				End:        end,
				Resolution: tier,
				Keys:       keys,
			})
			if err != nil {
				return nil, err
			}
			if len(finer.Rows) == 0 {
				continue
			}
			table, err = rollup.Coarsen(finer, res)
			if err != nil {
				return nil, err
			}
			break
		}
	}

	return rollup.Finalize(table), nil
}
