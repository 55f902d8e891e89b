package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultMaxMemoryMB  = 48
	DefaultMaxStorageGB = 2
	DefaultDataDir      = "./data/gears"
)

// Resolution tiers. Raw samples are bucketized at BaseResolution; the
// retention job coarsens settled buckets to MidResolution and eventually
// CoarseResolution. Overrides are parsed from env with graphite-style
// duration strings ("15s", "5min", "1h").
const (
	BaseResolution   = 15 * time.Second
	MidResolution    = 5 * time.Minute
	CoarseResolution = 1 * time.Hour
)

// Rollup scheduling. Settle windows leave a margin for in-flight samples
// before a tier is coarsened; retention windows bound how long each tier
// is kept once the coarser tier covers it.
const (
	FlushInterval     = 30 * time.Second
	RetentionInterval = 1 * time.Hour
	BadgerGCInterval  = 10 * time.Minute

	FineSettleWindow = 1 * time.Hour
	MidSettleWindow  = 6 * time.Hour

	FineRetention = 24 * time.Hour
	MidRetention  = 14 * 24 * time.Hour
)

// Query timeouts and defaults
const (
	QueryTimeout       = 30 * time.Second
	QueryDefaultWindow = 1 * time.Hour
	QueryMaxWindow     = 90 * 24 * time.Hour
	QueryDefaultLimit  = 1000
	QueryMaxLimit      = 5000
)

// Ingest timeouts and limits
const (
	IngestStatsTimeout = 5 * time.Second
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 30 * 24 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
	BroadcastInterval = 5 * time.Second
)

// Bucketize fan-out. Flushes shard samples by series hash across this many
// workers; the Chan merge recombines the shards.
const FlushWorkers = 4
