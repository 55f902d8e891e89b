package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vlad-oles/gears/pkg/config"
	"github.com/vlad-oles/gears/pkg/httpx"
	"github.com/vlad-oles/gears/pkg/sample"
	"github.com/vlad-oles/gears/pkg/storage"
)

var (
	samplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gears_samples_ingested_total",
		Help: "Raw samples accepted by the ingest endpoint.",
	})
	samplesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gears_samples_rejected_total",
		Help: "Raw samples rejected by validation or cardinality limits.",
	})
)

// Handler handles raw sample ingestion. Accepted samples go to the buffer;
// the pipeline's flush task bucketizes closed buckets from there.
type Handler struct {
	buffer  *Buffer
	tracker *CardinalityTracker
	store   storage.Storage
}

// NewHandler creates a new ingest handler.
func NewHandler(buffer *Buffer, tracker *CardinalityTracker, store storage.Storage) *Handler {
	return &Handler{
		buffer:  buffer,
		tracker: tracker,
		store:   store,
	}
}

// IngestRequest represents the request payload.
type IngestRequest struct {
	Samples []sample.Sample `json:"samples"`
}

// IngestResponse represents the response payload.
type IngestResponse struct {
	Status   string   `json:"status"`
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// HandleIngest handles the POST /v1/samples endpoint. Samples failing
// validation are rejected individually; the rest of the batch is accepted.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if len(req.Samples) > MaxSamplesPerRequest {
		samplesRejected.Add(float64(len(req.Samples)))
		httpx.RespondError(w, http.StatusRequestEntityTooLarge, ErrTooManySamples)
		return
	}

	resp := IngestResponse{Status: "success"}
	accepted := make([]sample.Sample, 0, len(req.Samples))
	for i, s := range req.Samples {
		if err := ValidateSample(s); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, fmt.Sprintf("sample %d: %v", i, err))
			continue
		}
		if err := h.tracker.Check(s); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, fmt.Sprintf("sample %d: %v", i, err))
			continue
		}
		h.tracker.Record(s)
		accepted = append(accepted, s)
	}

	h.buffer.Add(accepted...)
	resp.Accepted = len(accepted)
	samplesIngested.Add(float64(len(accepted)))
	samplesRejected.Add(float64(resp.Rejected))

	status := http.StatusOK
	if resp.Rejected > 0 && resp.Accepted == 0 {
		resp.Status = "rejected"
		status = http.StatusBadRequest
	} else if resp.Rejected > 0 {
		resp.Status = "partial"
	}
	httpx.RespondJSON(w, status, resp)
}

// StatsResponse combines storage and buffer statistics.
type StatsResponse struct {
	Storage  *storage.Stats `json:"storage"`
	Buffered int            `json:"buffered_samples"`
}

// HandleStats handles the GET /v1/stats endpoint.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestStatsTimeout)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, StatsResponse{
		Storage:  stats,
		Buffered: h.buffer.Len(),
	})
}

// HandleCardinalityStats handles the GET /v1/cardinality endpoint.
func (h *Handler) HandleCardinalityStats(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.tracker.Stats())
}
