package rollup

// Finalize converts a lossless aggregate table (at any resolution) into
// the terminal display statistics: mean, sample standard deviation, min
// and max per variable. Row and variable order follow the input table.
//
// Single-sample buckets surface Std as NaN (see Stats.Final); this is a
// documented property of the data, not an error condition.
func Finalize(t *Table) *FinalTable {
	out := &FinalTable{
		KeyCols:    t.KeyCols,
		Vars:       append([]string(nil), t.Vars...),
		Resolution: t.Resolution,
		Rows:       make([]FinalRow, 0, len(t.Rows)),
	}
	for _, row := range t.Rows {
		fr := FinalRow{
			Keys:  row.Keys,
			Start: row.Start,
			Stats: make(map[string]FinalStats, len(row.Stats)),
		}
		for name, s := range row.Stats {
			fr.Stats[name] = s.Final()
		}
		out.Rows = append(out.Rows, fr)
	}
	return out
}
