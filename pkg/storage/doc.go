/*
Package storage defines the persistence boundary for lossless aggregate
tables and the Record envelope that carries schema alongside data.

Two backends implement the Storage interface:

  - memory: slice-backed, for tests and development. Data is lost on restart.
  - badger: BadgerDB (LSM tree) with Snappy compression and bounded memory,
    keyed by (resolution, bucket start, series) for efficient tier scans.

Because lossless aggregates are sufficient statistics, anything written here
can be read back later and coarsened or finalized without the raw samples
that produced it. Rows are immutable once written; re-running a coarsening
pass rewrites identical rows, so persistence is idempotent.
*/
package storage
