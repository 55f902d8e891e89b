package rollup

import (
	"sort"
	"sync"
	"time"

	"github.com/vlad-oles/gears/pkg/sample"
)

// Bucketize converts raw samples into a lossless aggregate table at the
// given resolution. Every input column that is not a grouping key is a
// variable; each sample's timestamp is floored to its bucket start, and
// all samples sharing (grouping keys, bucket start) are Welford-folded
// into one Stats record per variable.
//
// Pure function of its inputs: no storage, no shared state. A group with
// a single sample yields SumSqDiff == 0 exactly; empty groups cannot
// occur, since a bucket exists only if at least one sample maps to it.
func Bucketize(samples []sample.Sample, res time.Duration, keyCols []string) (*Table, error) {
	if res <= 0 {
		return nil, ErrNoResolution
	}

	acc := make(map[string]*Row)
	varSet := make(map[string]bool)
	for _, s := range samples {
		start := FloorTime(s.Timestamp, res)
		keys := projectKeys(s, keyCols)
		key := bucketKey(keyCols, keys, start)

		row, ok := acc[key]
		if !ok {
			row = &Row{Keys: keys, Start: start, Stats: make(map[string]Stats, len(s.Values))}
			acc[key] = row
		}
		for name, v := range s.Values {
			varSet[name] = true
			st := row.Stats[name]
			st.Observe(v)
			row.Stats[name] = st
		}
	}

	t := &Table{
		KeyCols:    keyCols,
		Vars:       sortedVars(varSet),
		Resolution: res,
		Rows:       collectRows(acc),
	}
	sortRows(keyCols, t.Rows)
	return t, nil
}

// BucketizeParallel partitions samples across workers by series hash,
// bucketizes each shard independently, and recombines the shard tables
// with MergeTables. Because grouping and the Chan merge are associative
// and commutative over rows of the same (series, bucket), the result
// matches Bucketize within floating-point summation order effects.
func BucketizeParallel(samples []sample.Sample, res time.Duration, keyCols []string, workers int) (*Table, error) {
	if res <= 0 {
		return nil, ErrNoResolution
	}
	if workers <= 1 || len(samples) < 2*workers {
		return Bucketize(samples, res, keyCols)
	}

	shards := make([][]sample.Sample, workers)
	for _, s := range samples {
		keys := projectKeys(s, keyCols)
		i := int(SeriesHash(keyCols, keys) % uint64(workers))
		shards[i] = append(shards[i], s)
	}

	tables := make([]*Table, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range shards {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tables[i], errs[i] = Bucketize(shards[i], res, keyCols)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return MergeTables(tables...)
}

// projectKeys extracts only the configured grouping keys from a sample.
// A key the sample does not carry maps to the empty value, so such samples
// still group together deterministically.
func projectKeys(s sample.Sample, keyCols []string) map[string]string {
	if len(keyCols) == 0 {
		return nil
	}
	keys := make(map[string]string, len(keyCols))
	for _, col := range keyCols {
		keys[col] = s.Key(col)
	}
	return keys
}

func sortedVars(set map[string]bool) []string {
	vars := make([]string, 0, len(set))
	for v := range set {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}
