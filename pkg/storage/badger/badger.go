package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	log "github.com/sirupsen/logrus"

	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/storage"
)

// Storage implements storage.Storage using BadgerDB (LSM tree).
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly
	// defaults). Recommended: 64-128 MB for local dev, 256-512 for production.
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend tuned for an aggregate-row
// workload: small JSON values, append-mostly writes, range scans per
// resolution tier.
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// BadgerDB has multiple unbounded memory consumers; without explicit
	// limits it can reach 1-2 GB even with a small memtable.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of the 2 GB default

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Write persists a table's rows. Enforces context cancellation so a slow
// disk cannot block shutdown indefinitely.
func (s *Storage) Write(ctx context.Context, table *rollup.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := storage.RecordsFromTable(table)

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, rec := range records {
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				value, err := json.Marshal(rec)
				if err != nil {
					return fmt.Errorf("failed to encode record: %w", err)
				}
				if err := txn.Set(makeKey(rec), value); err != nil {
					return fmt.Errorf("failed to write record: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query reassembles a table from rows matching the request. Keys sort by
// (resolution, bucket start), so the scan seeks directly to the requested
// tier and stops at the end of the time range.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) (*rollup.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		table *rollup.Table
		err   error
	}
	done := make(chan queryResult, 1)
	startTime := time.Now()

	go func() {
		var matched []storage.Record
		var iterCount int
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = []byte{keyTag}
			if req.Resolution != 0 {
				opts.Prefix = tierPrefix(req.Resolution)
			}

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(seekKey(req.Resolution, req.Start)); it.Valid(); it.Next() {
				iterCount++
				// Cancellation check every 1000 iterations keeps long scans
				// from outliving their deadline.
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				var rec storage.Record
				err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				})
				if err != nil {
					return fmt.Errorf("failed to decode record: %w", err)
				}

				// Within one tier, keys are ordered by bucket start.
				if req.Resolution != 0 && rec.Start.After(req.End) {
					break
				}
				if !rec.Matches(req) {
					continue
				}
				matched = append(matched, rec)
				if req.Limit > 0 && len(matched) >= req.Limit {
					break
				}
			}
			return nil
		})
		if err != nil {
			done <- queryResult{err: err}
			return
		}
		if elapsed := time.Since(startTime); elapsed > 5*time.Second {
			log.Warnf("slow aggregate query: %v (%d iterations, %d rows)", elapsed, iterCount, len(matched))
		}
		table, err := storage.TableFromRecords(matched)
		done <- queryResult{table: table, err: err}
	}()

	select {
	case res := <-done:
		return res.table, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Delete removes rows with bucket starts before the cutoff, optionally
// restricted to one resolution tier.
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.PrefetchValues = false
			if opts.Resolution != 0 {
				iterOpts.Prefix = tierPrefix(opts.Resolution)
			}

			it := txn.NewIterator(iterOpts)
			defer it.Close()

			var stale [][]byte
			for it.Rewind(); it.Valid(); it.Next() {
				key := it.Item().KeyCopy(nil)
				start, ok := keyStart(key)
				if !ok {
					continue
				}
				if start.Before(opts.Before) {
					stale = append(stale, key)
				}
			}
			for _, key := range stale {
				if err := txn.Delete(key); err != nil {
					return fmt.Errorf("failed to delete record: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close cleanly shuts down BadgerDB.
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs one round of value-log garbage collection. Badger returns an
// error when nothing was rewritten; callers treat that as "no-op", not
// failure.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	series := make(map[uint64]bool)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			key := it.Item().KeyCopy(nil)
			start, ok := keyStart(key)
			if !ok {
				continue
			}
			stats.TotalRows++
			series[keySeries(key)] = true
			if stats.OldestBucket.IsZero() || start.Before(stats.OldestBucket) {
				stats.OldestBucket = start
			}
			if start.After(stats.NewestBucket) {
				stats.NewestBucket = start
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats.TotalSeries = uint64(len(series))
	lsm, vlog := s.db.Size()
	stats.SizeBytes = uint64(lsm + vlog)
	return stats, nil
}

// Key layout: 'a' | resolution seconds (4B BE) | bucket start unix (8B BE) |
// series hash (8B). Big-endian times make keys sort by tier then bucket
// start, which is the scan order every query wants. The variable set is not
// part of the identity: a rewrite of a (resolution, bucket, series) record
// replaces the old one even when its variables changed.
const (
	keyTag = 'a'
	keyLen = 1 + 4 + 8 + 8
)

func makeKey(rec storage.Record) []byte {
	key := make([]byte, keyLen)
	key[0] = keyTag
	binary.BigEndian.PutUint32(key[1:5], uint32(rec.Resolution/time.Second))
	binary.BigEndian.PutUint64(key[5:13], uint64(rec.Start.Unix()))
	binary.BigEndian.PutUint64(key[13:21], rollup.SeriesHash(rec.KeyCols, rec.Keys))
	return key
}

func tierPrefix(res time.Duration) []byte {
	prefix := make([]byte, 5)
	prefix[0] = keyTag
	binary.BigEndian.PutUint32(prefix[1:5], uint32(res/time.Second))
	return prefix
}

func seekKey(res time.Duration, start time.Time) []byte {
	if res == 0 || start.Unix() <= 0 {
		// Pre-epoch or unset start: begin at the tier (or table) prefix.
		if res == 0 {
			return []byte{keyTag}
		}
		return tierPrefix(res)
	}
	key := make([]byte, 13)
	key[0] = keyTag
	binary.BigEndian.PutUint32(key[1:5], uint32(res/time.Second))
	binary.BigEndian.PutUint64(key[5:13], uint64(start.Unix()))
	return key
}

func keyStart(key []byte) (time.Time, bool) {
	if len(key) != keyLen || key[0] != keyTag {
		return time.Time{}, false
	}
	return time.Unix(int64(binary.BigEndian.Uint64(key[5:13])), 0).UTC(), true
}

func keySeries(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[13:21])
}
