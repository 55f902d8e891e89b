package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vlad-oles/gears/pkg/server"
	"github.com/vlad-oles/gears/pkg/server/monitor"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.Info("Starting gears server...")

	cfg := server.LoadConfig()
	log.WithFields(log.Fields{
		"data_dir":   cfg.DataDir,
		"memory_mb":  cfg.MaxMemoryMB,
		"storage_gb": cfg.MaxStorageGB,
		"key_cols":   cfg.KeyCols,
	}).Info("Configuration loaded")

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	storageMonitor := monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageGB*1024*1024*1024)
	pipe, buffer, rollupMonitor := server.InitializePipeline(store, cfg)
	ingestHandler, queryHandler, exportHandler, hub := server.InitializeHandlers(store, buffer, pipe, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.BroadcastStats(ctx, pipe, hub)
	}()

	stopFlush := make(chan bool)
	wg.Add(1)
	go server.RunFlush(pipe, stopFlush, &wg)

	stopRetention := make(chan bool)
	wg.Add(1)
	go server.RunRetention(pipe, rollupMonitor, stopRetention, &wg)

	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunBadgerGC(store, stopGC, &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, ingestHandler, queryHandler, exportHandler,
		storageMonitor, rollupMonitor, hub, cfg.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Infof("Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutdown signal received...")

	// Stop background tasks before waiting on the group. The flush
	// scheduler drains the buffer on stop, so shutdown persists any
	// still-open buckets.
	cancel()
	close(stopFlush)
	close(stopRetention)
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Warn("Some background tasks did not stop in time (forcing exit)")
	}

	log.Info("Server exited cleanly")
}
