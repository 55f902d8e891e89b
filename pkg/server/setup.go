package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vlad-oles/gears/pkg/config"
	"github.com/vlad-oles/gears/pkg/export"
	"github.com/vlad-oles/gears/pkg/ingest"
	"github.com/vlad-oles/gears/pkg/pipeline"
	"github.com/vlad-oles/gears/pkg/query"
	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/server/monitor"
	"github.com/vlad-oles/gears/pkg/storage"
	"github.com/vlad-oles/gears/pkg/storage/badger"
)

// Config holds server configuration.
type Config struct {
	Port         string
	DataDir      string
	MaxMemoryMB  int64
	MaxStorageGB int64

	// Grouping-key column names for the whole deployment. Every series
	// identity is a combination of values for these columns.
	KeyCols []string

	// Resolution tiers, finest first.
	BaseResolution   time.Duration
	MidResolution    time.Duration
	CoarseResolution time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() Config {
	cfg := Config{
		Port:             config.DefaultPort,
		DataDir:          config.DefaultDataDir,
		MaxMemoryMB:      getEnvInt64("GEARS_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),
		MaxStorageGB:     getEnvInt64("GEARS_MAX_STORAGE_GB", config.DefaultMaxStorageGB),
		KeyCols:          []string{"host"},
		BaseResolution:   getEnvResolution("GEARS_BASE_RES", config.BaseResolution),
		MidResolution:    getEnvResolution("GEARS_MID_RES", config.MidResolution),
		CoarseResolution: getEnvResolution("GEARS_COARSE_RES", config.CoarseResolution),
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if dir := os.Getenv("GEARS_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if cols := os.Getenv("GEARS_KEY_COLS"); cols != "" {
		cfg.KeyCols = nil
		for _, col := range strings.Split(cols, ",") {
			if col = strings.TrimSpace(col); col != "" {
				cfg.KeyCols = append(cfg.KeyCols, col)
			}
		}
	}

	if cfg.MidResolution%cfg.BaseResolution != 0 || cfg.CoarseResolution%cfg.MidResolution != 0 {
		log.Fatalf("Resolution tiers must be multiples: %v -> %v -> %v",
			cfg.BaseResolution, cfg.MidResolution, cfg.CoarseResolution)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	return cfg
}

// InitializeStorage opens BadgerDB storage with the given configuration.
func InitializeStorage(cfg Config) (storage.Storage, error) {
	log.Info("Initializing BadgerDB storage with Snappy compression...")
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Info("BadgerDB storage initialized successfully")
	return store, nil
}

// InitializePipeline wires the ingest buffer and the rollup pipeline with
// health monitoring for the retention job.
func InitializePipeline(store storage.Storage, cfg Config) (*pipeline.Pipeline, *ingest.Buffer, *monitor.RollupMonitor) {
	buffer := ingest.NewBuffer(cfg.BaseResolution)
	pipe := pipeline.New(store, buffer, pipeline.Config{
		BaseResolution:   cfg.BaseResolution,
		MidResolution:    cfg.MidResolution,
		CoarseResolution: cfg.CoarseResolution,
		KeyCols:          cfg.KeyCols,
		FineSettle:       config.FineSettleWindow,
		MidSettle:        config.MidSettleWindow,
		FineRetention:    config.FineRetention,
		MidRetention:     config.MidRetention,
		FlushWorkers:     config.FlushWorkers,
	})
	rollupMonitor := &monitor.RollupMonitor{}
	log.WithFields(log.Fields{
		"base":   rollup.FormatResolution(cfg.BaseResolution),
		"mid":    rollup.FormatResolution(cfg.MidResolution),
		"coarse": rollup.FormatResolution(cfg.CoarseResolution),
	}).Info("Rollup pipeline ready")
	return pipe, buffer, rollupMonitor
}

// InitializeHandlers creates and configures all request handlers.
func InitializeHandlers(
	store storage.Storage,
	buffer *ingest.Buffer,
	pipe *pipeline.Pipeline,
	cfg Config,
) (
	*ingest.Handler,
	*query.Handler,
	*export.Handler,
	*ingest.StatsHub,
) {
	tracker := ingest.NewCardinalityTracker(cfg.KeyCols)
	ingestHandler := ingest.NewHandler(buffer, tracker, store)
	log.Info("Ingest handler created with cardinality protection")

	queryHandler := query.NewHandler(pipe)
	log.Info("Query handler created")

	exportHandler := export.NewHandler(store, cfg.BaseResolution)
	log.Info("Export/import handler created (JSON & CSV)")

	hub := ingest.NewStatsHub()
	log.Info("WebSocket hub created for live statistics")

	return ingestHandler, queryHandler, exportHandler, hub
}

// getEnvInt64 gets an int64 from an environment variable or returns the default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Warnf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvResolution parses a graphite-style duration from an environment
// variable or returns the default.
func getEnvResolution(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := rollup.ParseResolution(val); err == nil {
			return parsed
		}
		log.Warnf("Invalid resolution for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}
