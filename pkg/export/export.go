// Package export moves lossless aggregates across the service boundary.
// JSON exports carry full records and can be imported back into the
// pipeline; CSV exports flatten tables into dotted "{variable}.{statistic}"
// columns for spreadsheet-style consumers and are one-way for final
// statistics.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/storage"
)

// FormatVersion is bumped when the JSON envelope changes shape.
const FormatVersion = 1

// Envelope wraps an exported lossless table with enough metadata to
// validate it on re-import.
type Envelope struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Resolution string           `json:"resolution"`
	KeyCols    []string         `json:"key_cols,omitempty"`
	Vars       []string         `json:"vars"`
	RowCount   int              `json:"row_count"`
	Records    []storage.Record `json:"records"`
}

// WriteJSON streams a lossless table as a JSON envelope.
func WriteJSON(w io.Writer, t *rollup.Table) error {
	env := Envelope{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC(),
		Resolution: rollup.FormatResolution(t.Resolution),
		KeyCols:    t.KeyCols,
		Vars:       t.Vars,
		RowCount:   len(t.Rows),
		Records:    storage.RecordsFromTable(t),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// WriteCSV streams a lossless table as flat CSV. The header is the bucket
// start, the grouping-key columns in schema order, then one dotted column
// per variable and lossless statistic.
func WriteCSV(w io.Writer, t *rollup.Table) error {
	cw := csv.NewWriter(w)

	header := append([]string{"start"}, t.KeyCols...)
	header = append(header, rollup.Cols(t.Vars, rollup.LosslessStatCols)...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range t.Rows {
		rec := []string{row.Start.UTC().Format(time.RFC3339)}
		for _, col := range t.KeyCols {
			rec = append(rec, row.Keys[col])
		}
		for _, v := range t.Vars {
			st := row.Stats[v]
			rec = append(rec,
				strconv.FormatUint(st.Count, 10),
				formatFloat(st.Sum),
				formatFloat(st.SumSqDiff),
				formatFloat(st.Min),
				formatFloat(st.Max),
			)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFinalCSV streams a finalized table as flat CSV with the final
// statistic columns. An undefined statistic (std of a single sample, any
// statistic of an empty group) becomes an empty cell.
func WriteFinalCSV(w io.Writer, t *rollup.FinalTable) error {
	cw := csv.NewWriter(w)

	header := append([]string{"start"}, t.KeyCols...)
	header = append(header, rollup.Cols(t.Vars, rollup.FinalStatCols)...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range t.Rows {
		rec := []string{row.Start.UTC().Format(time.RFC3339)}
		for _, col := range t.KeyCols {
			rec = append(rec, row.Keys[col])
		}
		for _, v := range t.Vars {
			st := row.Stats[v]
			rec = append(rec,
				formatFloat(st.Mean),
				formatFloat(st.Std),
				formatFloat(st.Min),
				formatFloat(st.Max),
			)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
