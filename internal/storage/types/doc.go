// Package types defines the shared data structures of the storage engine:
// samples, streams, chunk lifecycle states and hourly rollup buckets.
//
// It has no dependencies on other storage packages so every layer
// (wal, chunk, parquet, compress, retention, caggs, query) can share it.
package types
