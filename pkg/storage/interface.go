package storage

import (
	"context"
	"time"

	"github.com/vlad-oles/gears/pkg/rollup"
)

// Storage defines the interface for lossless aggregate persistence.
// Implementations: memory (testing), badger (production).
//
// Persisted tables are immutable once written: later stages only read
// them, so concurrent readers are always safe. Re-writing the same
// (series, bucket, resolution) row is idempotent.
type Storage interface {
	// Write persists a lossless aggregate table.
	Write(ctx context.Context, table *rollup.Table) error

	// Query reassembles a lossless table from rows matching the request.
	Query(ctx context.Context, req QueryRequest) (*rollup.Table, error)

	// Delete removes aggregate rows matching the deletion criteria.
	Delete(ctx context.Context, opts DeleteOptions) error

	// Close cleanly shuts down the storage.
	Close() error

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*Stats, error)
}

// QueryRequest specifies which aggregate rows to retrieve.
type QueryRequest struct {
	// Time range over bucket starts (both inclusive).
	Start time.Time
	End   time.Time

	// Resolution selects the tier to read. Required.
	Resolution time.Duration

	// Filter by grouping-key values (optional, exact match).
	Keys map[string]string

	// Limit number of rows (0 = no limit).
	Limit int
}

// DeleteOptions specifies which aggregate rows to delete.
type DeleteOptions struct {
	// Remove rows with bucket start before this time.
	Before time.Time

	// Restrict deletion to one resolution tier (0 = all tiers).
	Resolution time.Duration
}

// Stats provides storage health and usage info.
type Stats struct {
	// Total aggregate rows stored, across all resolutions.
	TotalRows uint64

	// Unique series (grouping-key combinations).
	TotalSeries uint64

	// Storage size in bytes.
	SizeBytes uint64

	// Oldest and newest stored bucket start.
	OldestBucket time.Time
	NewestBucket time.Time
}
