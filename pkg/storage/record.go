package storage

import (
	"fmt"
	"time"

	"github.com/vlad-oles/gears/pkg/rollup"
)

// Record is the persisted form of one lossless aggregate row. It carries
// the schema (key columns, variables, resolution) alongside the data, so
// a table can be reassembled from records alone and the pipeline can be
// re-entered from persisted state.
type Record struct {
	KeyCols    []string                `json:"key_cols,omitempty"`
	Vars       []string                `json:"vars"`
	Resolution time.Duration           `json:"resolution"`
	Keys       map[string]string       `json:"keys,omitempty"`
	Start      time.Time               `json:"start"`
	Stats      map[string]rollup.Stats `json:"stats"`
}

// Validate checks that a record decoded from storage is complete enough
// to aggregate: a resolution, a bucket start, at least one variable, and
// a value for every declared grouping key. A record failing this is a
// configuration error surfaced to the caller, never silently reshaped.
func (r Record) Validate() error {
	if r.Resolution <= 0 {
		return fmt.Errorf("record has no resolution: %w", rollup.ErrNoResolution)
	}
	if r.Start.IsZero() {
		return fmt.Errorf("record has no bucket start time")
	}
	if len(r.Stats) == 0 {
		return fmt.Errorf("record carries no variable statistics")
	}
	for _, col := range r.KeyCols {
		if _, ok := r.Keys[col]; !ok {
			return fmt.Errorf("record missing grouping key %q: %w", col, rollup.ErrKeyColumnMismatch)
		}
	}
	return nil
}

// Matches reports whether the record satisfies a query's filters.
func (r Record) Matches(req QueryRequest) bool {
	if req.Resolution != 0 && r.Resolution != req.Resolution {
		return false
	}
	if r.Start.Before(req.Start) || r.Start.After(req.End) {
		return false
	}
	for k, v := range req.Keys {
		if r.Keys[k] != v {
			return false
		}
	}
	return true
}

// RecordsFromTable flattens a table into persistable records.
func RecordsFromTable(t *rollup.Table) []Record {
	records := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		records = append(records, Record{
			KeyCols:    t.KeyCols,
			Vars:       t.Vars,
			Resolution: t.Resolution,
			Keys:       row.Keys,
			Start:      row.Start,
			Stats:      row.Stats,
		})
	}
	return records
}

// TableFromRecords reassembles a lossless table. All records must agree on
// key columns and resolution; disagreement means the caller mixed
// incompatible persisted states and gets a typed error rather than a
// silently malformed table.
func TableFromRecords(records []Record) (*rollup.Table, error) {
	t := &rollup.Table{}
	if len(records) == 0 {
		return t, nil
	}

	first := records[0]
	t.KeyCols = first.KeyCols
	t.Resolution = first.Resolution

	varSeen := make(map[string]bool)
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if r.Resolution != t.Resolution {
			return nil, fmt.Errorf("records at %v and %v: %w",
				t.Resolution, r.Resolution, rollup.ErrResolutionNotMultiple)
		}
		if !equalKeyCols(r.KeyCols, t.KeyCols) {
			return nil, fmt.Errorf("records keyed by %v and %v: %w",
				t.KeyCols, r.KeyCols, rollup.ErrKeyColumnMismatch)
		}
		for _, v := range r.Vars {
			if !varSeen[v] {
				varSeen[v] = true
				t.Vars = append(t.Vars, v)
			}
		}
		t.Rows = append(t.Rows, rollup.Row{Keys: r.Keys, Start: r.Start, Stats: r.Stats})
	}
	return t, nil
}

func equalKeyCols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
