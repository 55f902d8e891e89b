/*
Package rollup implements the three-stage aggregation core of gears:
streaming-friendly, multi-resolution statistical summaries of timestamped
measurements that never re-read raw data once the first pass has run.

# The Three Stages

	raw samples ──Bucketize──▶ lossless (fine) ──Coarsen──▶ lossless (coarse) ──Finalize──▶ final
	                                │                │  ▲
	                                ▼                ▼  │ (chainable)
	                            persisted        persisted

  - Bucketize turns raw samples into lossless per-bucket aggregates:
    count, sum, corrected sum of squares, min, max per variable.
  - Coarsen merges lossless aggregates into coarser buckets while staying
    lossless, so it can be applied again and again (15s → 5m → 1h).
  - Finalize derives the terminal display statistics (mean, std, min, max).
    Final tables cannot be aggregated further; the sufficient statistics
    are gone.

Lossless tables may be persisted between any two stages and reloaded later;
that is what makes the pipeline re-enterable without the raw data.

# Why SumSqDiff Is the Hard Part

Count, sum, min and max combine trivially across buckets. The sum of squared
differences does not: each bucket's value is relative to that bucket's own
mean. Merging bucket A into bucket B shifts the reference mean, so the naive
sum of the two SumSqDiff values undercounts the true spread. Stats.Merge
applies the correction term from Chan et al.'s parallel variance algorithm:

	ssd = ssdA + ssdB + (meanB - meanA)² · nA·nB / (nA+nB)

which is exact under real arithmetic and numerically stable in practice.
Because the merge is associative and commutative, any partitioning of the
samples (across goroutines, flush cycles, or persisted shards) produces
the same statistics.

# Single-Sample Buckets

A bucket holding one sample has SumSqDiff == 0 by definition, and its sample
standard deviation is 0/0: undefined. Finalize surfaces that as NaN (null in
JSON) rather than masking it as zero. Callers that see std == NaN know the
bucket had exactly one observation.

# Flat Column Naming

Tables carry an explicit schema (key columns, variables, resolution). At flat
boundaries such as CSV export and storage encoding, each statistic becomes a column
named "{variable}.{statistic}", e.g. "temp.sum_sq_diff". VarsFromCols inverts
Cols, so variable sets round-trip through the flat form.
*/
package rollup
