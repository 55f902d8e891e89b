package server

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vlad-oles/gears/pkg/config"
	"github.com/vlad-oles/gears/pkg/ingest"
	"github.com/vlad-oles/gears/pkg/pipeline"
	"github.com/vlad-oles/gears/pkg/server/monitor"
	"github.com/vlad-oles/gears/pkg/storage"
	"github.com/vlad-oles/gears/pkg/storage/badger"
)

// RunFlush periodically bucketizes closed base-resolution buckets from the
// ingest buffer into storage. Raw samples only live in memory between
// flushes.
func RunFlush(pipe *pipeline.Pipeline, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := pipe.Flush(context.Background())
			if err != nil {
				log.WithError(err).Error("Flush failed, samples stay buffered until the next pass")
				continue
			}
			if n > 0 {
				log.WithField("buckets", n).Debug("Flushed closed buckets")
			}
		case <-stop:
			// Final flush so buffered samples survive shutdown.
			if n, err := pipe.FlushAll(context.Background()); err != nil {
				log.WithError(err).Error("Final flush failed, buffered samples lost")
			} else if n > 0 {
				log.WithField("buckets", n).Info("Final flush completed")
			}
			log.Info("Stopping flush scheduler")
			return
		}
	}
}

// RunRetention runs the multi-tier rollup job periodically: coarsen settled
// tiers and delete what the coarser data supersedes.
func RunRetention(pipe *pipeline.Pipeline, rollupMonitor *monitor.RollupMonitor, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.RetentionInterval)
	defer ticker.Stop()

	runWithRetry := func(ctx context.Context, isInitial bool) {
		maxRetries := 3
		baseDelay := 30 * time.Second

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1))
				log.Infof("Retrying retention in %v (attempt %d/%d)...", delay, attempt+1, maxRetries+1)
				select {
				case <-time.After(delay):
				case <-stop:
					return
				}
			}

			start := time.Now()
			err := pipe.RunRetention(ctx)

			if err == nil {
				rollupMonitor.RecordSuccess()
				if isInitial {
					log.Infof("Initial retention pass completed in %v", time.Since(start).Round(time.Millisecond))
				} else {
					log.Infof("Retention pass completed in %v (coarsening + cleanup)", time.Since(start).Round(time.Millisecond))
				}
				return
			}

			rollupMonitor.RecordFailure(err)
			log.WithError(err).Errorf("Retention pass failed (attempt %d/%d)", attempt+1, maxRetries+1)

			if status := rollupMonitor.Status(); status.ConsecutiveErrors > 3 {
				log.Errorf("ALERT: Retention has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
			}
		}

		log.Errorf("Retention failed after %d attempts, will retry on next schedule", maxRetries+1)
	}

	// Run once on startup so a restart doesn't leave a gap in the tiers.
	go func() {
		log.Info("Running initial retention pass (15s -> 5m -> 1h tiers)...")
		runWithRetry(context.Background(), true)
	}()

	for {
		select {
		case <-ticker.C:
			log.Info("Scheduled retention pass started...")
			runWithRetry(context.Background(), false)
		case <-stop:
			log.Info("Stopping retention scheduler")
			return
		}
	}
}

// BroadcastStats periodically summarizes the last minute at base resolution
// and pushes the finalized rows to WebSocket clients. Uses exponential
// backoff on errors to prevent log spam during outages.
func BroadcastStats(ctx context.Context, pipe *pipeline.Pipeline, hub *ingest.StatsHub) {
	ticker := time.NewTicker(config.BroadcastInterval)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}

			final, err := pipe.Summarize(ctx, pipe.Config().BaseResolution,
				time.Now().Add(-time.Minute), time.Now(), nil)
			if err != nil {
				consecutiveErrors++
				now := time.Now()

				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.WithError(err).Errorf("Failed to summarize for broadcast (error #%d, backoff %v)",
						consecutiveErrors, backoff)
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Infof("Stats broadcast recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}

			if len(final.Rows) == 0 {
				continue
			}

			update := map[string]interface{}{
				"type":      "stats_update",
				"timestamp": time.Now().Unix(),
				"rows":      final.Rows,
				"count":     len(final.Rows),
			}
			if err := hub.Broadcast(update); err != nil {
				log.WithError(err).Error("Failed to broadcast stats")
			}
		}
	}
}

// RunBadgerGC runs BadgerDB value-log garbage collection periodically.
// LSM trees accumulate deleted tiers in the value log; without GC the
// retention job frees nothing on disk.
func RunBadgerGC(store storage.Storage, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Info("Storage is not BadgerDB, skipping GC")
		return
	}

	log.Infof("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Reclaim space when at least half of a value-log file is garbage.
			if err := badgerStore.RunGC(0.5); err != nil {
				log.Infof("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Infof("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-stop:
			log.Info("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
