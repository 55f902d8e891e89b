package memory

import (
	"context"
	"sync"

	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/storage"
)

// Storage stores aggregate records in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	records []storage.Record
	mu      sync.RWMutex
}

// New creates an in-memory storage backend.
func New() *Storage {
	return &Storage{
		records: make([]storage.Record, 0, 1024),
	}
}

// Write stores a table's rows in memory. A row for an already-stored
// (series, bucket, resolution) replaces the old one, matching the
// idempotent-rewrite semantics of the badger backend.
func (s *Storage) Write(ctx context.Context, table *rollup.Table) error {
	records := storage.RecordsFromTable(table)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if i := s.indexOf(rec); i >= 0 {
			s.records[i] = rec
		} else {
			s.records = append(s.records, rec)
		}
	}
	return nil
}

// indexOf finds an existing record with the same identity, or -1.
func (s *Storage) indexOf(rec storage.Record) int {
	key := rollup.SeriesKey(rec.KeyCols, rec.Keys)
	for i, r := range s.records {
		if r.Resolution == rec.Resolution && r.Start.Equal(rec.Start) &&
			rollup.SeriesKey(r.KeyCols, r.Keys) == key {
			return i
		}
	}
	return -1
}

// Query reassembles a table from records matching the request.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) (*rollup.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []storage.Record
	for _, r := range s.records {
		if !r.Matches(req) {
			continue
		}
		matched = append(matched, r)
		if req.Limit > 0 && len(matched) >= req.Limit {
			break
		}
	}
	return storage.TableFromRecords(matched)
}

// Delete removes records older than the cutoff, optionally restricted to
// one resolution tier.
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		stale := r.Start.Before(opts.Before) &&
			(opts.Resolution == 0 || r.Resolution == opts.Resolution)
		if !stale {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

// Close is a no-op for memory storage.
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalRows: uint64(len(s.records)),
	}
	if len(s.records) == 0 {
		return stats, nil
	}

	series := make(map[string]bool)
	oldest := s.records[0].Start
	newest := s.records[0].Start
	for _, r := range s.records {
		series[rollup.SeriesKey(r.KeyCols, r.Keys)] = true
		if r.Start.Before(oldest) {
			oldest = r.Start
		}
		if r.Start.After(newest) {
			newest = r.Start
		}
	}

	stats.TotalSeries = uint64(len(series))
	stats.OldestBucket = oldest
	stats.NewestBucket = newest

	// Rough size estimate; a record is a few hundred bytes of JSON.
	stats.SizeBytes = uint64(len(s.records)) * 300

	return stats, nil
}
