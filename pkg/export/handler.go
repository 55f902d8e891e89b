package export

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vlad-oles/gears/pkg/config"
	"github.com/vlad-oles/gears/pkg/httpx"
	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/storage"
)

// Handler serves bulk export and re-import of lossless aggregates.
type Handler struct {
	store   storage.Storage
	baseRes time.Duration
}

// NewHandler creates an export handler.
func NewHandler(store storage.Storage, baseRes time.Duration) *Handler {
	return &Handler{store: store, baseRes: baseRes}
}

// HandleExport serves GET /v1/export.
//
// Parameters:
//
//	start, end: window bounds as unix seconds; end defaults to now,
//	            start to end minus the default export window
//	res:        storage tier to export (default the base tier)
//	format:     "json" (default, re-importable) or "csv"
//	final:      with format=csv, export final statistics instead of
//	            lossless ones
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	params := r.URL.Query()

	end := time.Now().UTC()
	if v := params.Get("end"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid end: expected unix seconds")
			return
		}
		end = time.Unix(secs, 0).UTC()
	}
	start := end.Add(-config.DefaultExportWindow)
	if v := params.Get("start"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid start: expected unix seconds")
			return
		}
		start = time.Unix(secs, 0).UTC()
	}
	if end.Sub(start) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("window exceeds maximum of %v", config.MaxExportWindow))
		return
	}

	res := h.baseRes
	if v := params.Get("res"); v != "" {
		parsed, err := rollup.ParseResolution(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid res: %v", err))
			return
		}
		res = parsed
	}

	table, err := h.store.Query(ctx, storage.QueryRequest{
		Start:      start,
		End:        end,
		Resolution: res,
	})
	if err != nil {
		log.WithError(err).Error("Export query failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	format := params.Get("format")
	final := params.Get("final") == "true"
	switch {
	case final && format != "csv":
		httpx.RespondErrorString(w, http.StatusBadRequest,
			"final statistics are terminal and only exported as csv")
	case format == "csv" && final:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="gears-final.csv"`)
		if err := WriteFinalCSV(w, rollup.Finalize(table)); err != nil {
			log.WithError(err).Error("CSV export failed")
		}
	case format == "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="gears-lossless.csv"`)
		if err := WriteCSV(w, table); err != nil {
			log.WithError(err).Error("CSV export failed")
		}
	case format == "" || format == "json":
		w.Header().Set("Content-Type", "application/json")
		if err := WriteJSON(w, table); err != nil {
			log.WithError(err).Error("JSON export failed")
		}
	default:
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("unknown format %q (expected json or csv)", format))
	}
}

// ImportResponse reports the outcome of a re-import.
type ImportResponse struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
	Rows       int    `json:"rows"`
}

// HandleImport serves POST /v1/import. The body is a JSON export envelope;
// its records re-enter storage as lossless aggregates and participate in
// coarsening and queries like freshly bucketized data.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	table, err := ReadJSON(r.Body)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.store.Write(ctx, table); err != nil {
		log.WithError(err).Error("Import write failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	log.WithFields(log.Fields{
		"rows":       len(table.Rows),
		"resolution": rollup.FormatResolution(table.Resolution),
	}).Info("Imported lossless aggregates")

	httpx.RespondJSON(w, http.StatusOK, ImportResponse{
		Status:     "success",
		Resolution: rollup.FormatResolution(table.Resolution),
		Rows:       len(table.Rows),
	})
}
