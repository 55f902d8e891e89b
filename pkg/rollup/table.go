package rollup

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Configuration errors surfaced when a table does not carry the shape a
// stage expects. These fail fast instead of silently reshaping.
var (
	ErrResolutionTooFine     = errors.New("requested resolution is finer than the table's resolution")
	ErrResolutionNotMultiple = errors.New("requested resolution is not a multiple of the table's resolution")
	ErrKeyColumnMismatch     = errors.New("grouping key columns do not match")
	ErrNoResolution          = errors.New("resolution must be positive")
)

// Row is one lossless aggregate row: the grouping-key values, the bucket
// start time, and the sufficient statistics per variable.
type Row struct {
	Keys  map[string]string `json:"keys,omitempty"`
	Start time.Time         `json:"start"`
	Stats map[string]Stats  `json:"stats"`
}

// Table is a lossless aggregate table with an explicit schema: the ordered
// grouping-key column names, the ordered variable names, and the bucket
// width shared by all rows. Carrying the schema explicitly decouples data
// identity from the dotted column-name convention used at flat boundaries
// (CSV, storage encoding); see columns.go for that boundary.
type Table struct {
	KeyCols    []string      `json:"key_cols,omitempty"`
	Vars       []string      `json:"vars"`
	Resolution time.Duration `json:"resolution"`
	Rows       []Row         `json:"rows"`
}

// FinalRow is one terminal aggregate row. Its statistics can be displayed
// but not merged further.
type FinalRow struct {
	Keys  map[string]string     `json:"keys,omitempty"`
	Start time.Time             `json:"start"`
	Stats map[string]FinalStats `json:"stats"`
}

// FinalTable is the terminal output of Finalize. No API accepts it as
// aggregation input.
type FinalTable struct {
	KeyCols    []string      `json:"key_cols,omitempty"`
	Vars       []string      `json:"vars"`
	Resolution time.Duration `json:"resolution"`
	Rows       []FinalRow    `json:"rows"`
}

// SeriesKey builds a deterministic identity string for the grouping-key
// values of a row, using the table's key-column order. Rows of independent
// series never share a key.
func SeriesKey(keyCols []string, keys map[string]string) string {
	if len(keyCols) == 0 {
		return ""
	}
	parts := make([]string, 0, len(keyCols))
	for _, col := range keyCols {
		parts = append(parts, col+"="+keys[col])
	}
	return strings.Join(parts, ",")
}

// SeriesHash hashes a series key for shard partitioning and storage keys.
func SeriesHash(keyCols []string, keys map[string]string) uint64 {
	return xxhash.Sum64String(SeriesKey(keyCols, keys))
}

// bucketKey identifies one (series, bucket start) aggregate.
func bucketKey(keyCols []string, keys map[string]string, start time.Time) string {
	return SeriesKey(keyCols, keys) + "@" + start.UTC().Format(time.RFC3339Nano)
}

// sortRows orders rows by series key then bucket start, so table output is
// deterministic regardless of map iteration or row arrival order.
func sortRows(keyCols []string, rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		ki, kj := SeriesKey(keyCols, rows[i].Keys), SeriesKey(keyCols, rows[j].Keys)
		if ki != kj {
			return ki < kj
		}
		return rows[i].Start.Before(rows[j].Start)
	})
}

// sameKeyCols reports whether two key-column lists are identical, order
// included. Key-column order is part of the schema.
func sameKeyCols(a, b []string) bool {
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

// unionVars merges variable name lists preserving first-seen order.
func unionVars(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// MergeTables merges lossless tables sharing a resolution and key columns
// into one, combining rows that land on the same (series, bucket) with the
// Chan identity. This is how sharded bucketizing recombines and how
// separately persisted partial results are unified.
func MergeTables(tables ...*Table) (*Table, error) {
	var nonEmpty []*Table
	for _, t := range tables {
		if t != nil {
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(nonEmpty) == 0 {
		return &Table{}, nil
	}

	first := nonEmpty[0]
	merged := make(map[string]*Row)
	var varLists [][]string
	for _, t := range nonEmpty {
		if t.Resolution != first.Resolution {
			return nil, fmt.Errorf("cannot merge tables at %v and %v: %w",
				first.Resolution, t.Resolution, ErrResolutionNotMultiple)
		}
		if !sameKeyCols(t.KeyCols, first.KeyCols) {
			return nil, fmt.Errorf("cannot merge tables keyed by %v and %v: %w",
				first.KeyCols, t.KeyCols, ErrKeyColumnMismatch)
		}
		varLists = append(varLists, t.Vars)
		for _, row := range t.Rows {
			mergeRow(merged, first.KeyCols, row, row.Start)
		}
	}

	out := &Table{
		KeyCols:    first.KeyCols,
		Vars:       unionVars(varLists...),
		Resolution: first.Resolution,
		Rows:       collectRows(merged),
	}
	sortRows(out.KeyCols, out.Rows)
	return out, nil
}

// mergeRow folds row into the accumulator under the bucket start `start`
// (which may be coarser than row.Start when coarsening).
func mergeRow(acc map[string]*Row, keyCols []string, row Row, start time.Time) {
	key := bucketKey(keyCols, row.Keys, start)
	dst, ok := acc[key]
	if !ok {
		dst = &Row{
			Keys:  row.Keys,
			Start: start,
			Stats: make(map[string]Stats, len(row.Stats)),
		}
		acc[key] = dst
	}
	for name, s := range row.Stats {
		dst.Stats[name] = dst.Stats[name].Merge(s)
	}
}

func collectRows(acc map[string]*Row) []Row {
	rows := make([]Row, 0, len(acc))
	for _, r := range acc {
		rows = append(rows, *r)
	}
	return rows
}
