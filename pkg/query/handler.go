// Package query serves final statistics over HTTP. The handler parses the
// time window, resolution and key filters, delegates to the pipeline, and
// renders the finalized table. Resolution strings use graphite-style
// shorthand ("15s", "5min", "1h").
package query

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vlad-oles/gears/pkg/config"
	"github.com/vlad-oles/gears/pkg/httpx"
	"github.com/vlad-oles/gears/pkg/pipeline"
	"github.com/vlad-oles/gears/pkg/rollup"
)

// Handler answers read queries against the rollup tiers.
type Handler struct {
	pipe *pipeline.Pipeline
}

// NewHandler creates a query handler backed by the given pipeline.
func NewHandler(pipe *pipeline.Pipeline) *Handler {
	return &Handler{pipe: pipe}
}

// Response is the JSON envelope for a query result.
type Response struct {
	Resolution string             `json:"resolution"`
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	RowCount   int                `json:"row_count"`
	Table      *rollup.FinalTable `json:"table"`
}

// HandleQuery serves GET /v1/query.
//
// Parameters:
//
//	start, end: window bounds, RFC3339 or unix seconds; end defaults to
//	            now, start to end minus the default window
//	res:        target resolution (default the base tier)
//	key.<name>: grouping-key filters, repeatable
//	limit:      maximum rows returned (default 1000, capped at 5000)
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	params := r.URL.Query()

	end := time.Now().UTC()
	if v := params.Get("end"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid end: %v", err))
			return
		}
		end = t
	}
	start := end.Add(-config.QueryDefaultWindow)
	if v := params.Get("start"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid start: %v", err))
			return
		}
		start = t
	}
	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > config.QueryMaxWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("window exceeds maximum of %v", config.QueryMaxWindow))
		return
	}

	res := h.pipe.Config().BaseResolution
	if v := params.Get("res"); v != "" {
		parsed, err := rollup.ParseResolution(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid res: %v", err))
			return
		}
		res = parsed
	}
	if res < h.pipe.Config().BaseResolution || res%h.pipe.Config().BaseResolution != 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("res must be a multiple of the base resolution %s",
				rollup.FormatResolution(h.pipe.Config().BaseResolution)))
		return
	}

	limit := config.QueryDefaultLimit
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > config.QueryMaxLimit {
		limit = config.QueryMaxLimit
	}

	keys := make(map[string]string)
	for name, vals := range params {
		if !strings.HasPrefix(name, "key.") || len(vals) == 0 {
			continue
		}
		keys[strings.TrimPrefix(name, "key.")] = vals[0]
	}

	final, err := h.pipe.Summarize(ctx, res, start, end, keys)
	if err != nil {
		log.WithError(err).Error("Query failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if len(final.Rows) > limit {
		final.Rows = final.Rows[:limit]
	}

	httpx.RespondJSON(w, http.StatusOK, Response{
		Resolution: rollup.FormatResolution(res),
		Start:      start,
		End:        end,
		RowCount:   len(final.Rows),
		Table:      final,
	})
}

func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or unix seconds: %w", err)
	}
	return t.UTC(), nil
}
