package rollup

import "strings"

// Statistic column suffixes used by the flat (dotted) naming convention.
// Each derived column at a flat boundary is named "{variable}.{statistic}",
// so variable names can be recovered by splitting on the final dot.
const (
	StatCount     = "count"
	StatSum       = "sum"
	StatSumSqDiff = "sum_sq_diff"
	StatMin       = "min"
	StatMax       = "max"
	StatMean      = "mean"
	StatStd       = "std"
)

// LosslessStatCols is the suffix set of a lossless aggregate column group,
// FinalStatCols of a final one, both in canonical order.
var (
	LosslessStatCols = []string{StatCount, StatSum, StatSumSqDiff, StatMin, StatMax}
	FinalStatCols    = []string{StatMean, StatStd, StatMin, StatMax}
)

// Col builds the flat column name for one variable/statistic pair.
func Col(variable, stat string) string {
	return variable + "." + stat
}

// Cols builds the full flat column list for a variable set: columns are
// grouped by variable (all statistics of one variable together), variables
// in the given order.
func Cols(vars []string, stats []string) []string {
	cols := make([]string, 0, len(vars)*len(stats))
	for _, v := range vars {
		for _, s := range stats {
			cols = append(cols, Col(v, s))
		}
	}
	return cols
}

// VarsFromCols recovers the variable names from a flat column list,
// preserving first-seen order and skipping any explicitly excluded
// non-variable columns (time, grouping keys). Columns without a dot are
// ignored: they cannot carry a statistic suffix.
func VarsFromCols(cols []string, exclude []string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		skip[c] = true
	}

	var vars []string
	seen := make(map[string]bool)
	for _, c := range cols {
		if skip[c] {
			continue
		}
		i := strings.LastIndex(c, ".")
		if i <= 0 {
			continue
		}
		v := c[:i]
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	return vars
}
