package rollup

import (
	"fmt"
	"time"
)

// Coarsen merges a lossless aggregate table into coarser time buckets.
// Each row's existing bucket start is re-floored to the new resolution,
// and all rows landing on the same (series, coarse bucket) are combined
// with the Chan parallel-variance identity, so the output is again a
// lossless table with the same shape and semantics as the input.
//
// Because the output shape equals the input shape, Coarsen chains:
// fine -> medium -> coarse is numerically equivalent (within floating
// point) to fine -> coarse directly.
//
// The requested resolution must be a whole multiple of the table's
// current resolution and no finer than it; anything else is a
// configuration error, not silently degraded output.
func Coarsen(t *Table, res time.Duration) (*Table, error) {
	if res <= 0 {
		return nil, ErrNoResolution
	}
	if res < t.Resolution {
		return nil, fmt.Errorf("coarsen %v to %v: %w", t.Resolution, res, ErrResolutionTooFine)
	}
	if t.Resolution > 0 && res%t.Resolution != 0 {
		return nil, fmt.Errorf("coarsen %v to %v: %w", t.Resolution, res, ErrResolutionNotMultiple)
	}

	acc := make(map[string]*Row)
	for _, row := range t.Rows {
		mergeRow(acc, t.KeyCols, row, FloorTime(row.Start, res))
	}

	out := &Table{
		KeyCols:    t.KeyCols,
		Vars:       append([]string(nil), t.Vars...),
		Resolution: res,
		Rows:       collectRows(acc),
	}
	sortRows(out.KeyCols, out.Rows)
	return out, nil
}
