package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vlad-oles/gears/pkg/export"
	"github.com/vlad-oles/gears/pkg/httpx"
	"github.com/vlad-oles/gears/pkg/ingest"
	"github.com/vlad-oles/gears/pkg/query"
	"github.com/vlad-oles/gears/pkg/server/monitor"
)

var startTime = time.Now()

// StorageUsage represents current storage usage.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Rollup  monitor.RollupStatus `json:"rollup"`
}

// handleHealth returns service health, degraded when the retention job is
// falling behind.
func handleHealth(rollupMonitor *monitor.RollupMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK
		if !rollupMonitor.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Version: "1.0.0",
			Uptime:  time.Since(startTime).String(),
			Rollup:  rollupMonitor.Status(),
		})
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(storageMonitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := storageMonitor.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  storageMonitor.GetLimit(),
		})
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	ingestHandler *ingest.Handler,
	queryHandler *query.Handler,
	exportHandler *export.Handler,
	storageMonitor *monitor.StorageMonitor,
	rollupMonitor *monitor.RollupMonitor,
	hub *ingest.StatsHub,
	port string,
) {
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	// Sample ingestion and aggregate queries
	api.HandleFunc("/samples", ingestHandler.HandleIngest).Methods("POST")
	api.HandleFunc("/query", queryHandler.HandleQuery).Methods("GET")

	// Metadata and stats
	api.HandleFunc("/stats", ingestHandler.HandleStats).Methods("GET")
	api.HandleFunc("/cardinality", ingestHandler.HandleCardinalityStats).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(storageMonitor)).Methods("GET")
	api.HandleFunc("/health", handleHealth(rollupMonitor)).Methods("GET")

	// WebSocket for live statistics
	api.HandleFunc("/ws", ingestHandler.HandleWebSocket(hub)).Methods("GET")

	// Export/import of lossless aggregates
	api.HandleFunc("/export", exportHandler.HandleExport).Methods("GET")
	api.HandleFunc("/import", exportHandler.HandleImport).Methods("POST")

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// corsMiddleware creates CORS middleware restricted to localhost origins.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
