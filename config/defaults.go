// Package config provides configuration defaults and utilities
// for the velostore daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via velostore.yaml.
package config

import "time"

// =============================================================================
// Chunk Defaults
// =============================================================================

const (
	// DefaultStatusChunkWidth is the time range covered by one status chunk.
	// At a 15-minute cadence and ~1500 stations a day holds ~144k rows.
	// Override via config: chunks.status_width
	DefaultStatusChunkWidth = 24 * time.Hour

	// DefaultWeatherChunkWidth is the time range covered by one weather chunk.
	// Weather is a single city-wide series, a week holds ~700 rows.
	// Override via config: chunks.weather_width
	DefaultWeatherChunkWidth = 7 * 24 * time.Hour

	// DefaultSealInterval is how often elapsed chunks are sealed.
	// Override via config: chunks.seal_interval
	DefaultSealInterval = time.Minute
)

// =============================================================================
// Compression Defaults
// =============================================================================

const (
	// DefaultCompressionAge is how long a sealed chunk stays row-oriented
	// before being rewritten as Parquet. Late upstream backfills land
	// within this window.
	// Override via config: compression.age
	DefaultCompressionAge = 7 * 24 * time.Hour

	// DefaultCompressionInterval is the background pass interval.
	// Override via config: compression.interval
	DefaultCompressionInterval = time.Hour

	// DefaultCompressionWorkers bounds concurrent chunk transforms.
	// Override via config: compression.workers
	DefaultCompressionWorkers = 4

	// DefaultCompressionAlgorithm is the Parquet codec.
	// Override via config: compression.algorithm
	DefaultCompressionAlgorithm = "zstd"
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultStatusRetention is the horizon for raw status samples.
	// Override via config: retention.status
	DefaultStatusRetention = 180 * 24 * time.Hour

	// DefaultWeatherRetention is the horizon for weather observations.
	// Override via config: retention.weather
	DefaultWeatherRetention = 180 * 24 * time.Hour

	// DefaultPredictionRetention is the horizon for forecast rows,
	// measured from their generation time.
	// Override via config: retention.predictions
	DefaultPredictionRetention = 90 * 24 * time.Hour

	// DefaultRetentionInterval is the background pass interval.
	// Override via config: retention.interval
	DefaultRetentionInterval = time.Hour
)

// =============================================================================
// Aggregate Defaults
// =============================================================================

const (
	// DefaultAggregateStartOffset is how far behind now a refresh window
	// begins. Three hours gives late samples two extra passes to land.
	// Override via config: aggregate.start_offset
	DefaultAggregateStartOffset = 3 * time.Hour

	// DefaultAggregateEndOffset keeps the still-filling current hour out
	// of the materialized buckets. Queries serve that tail from raw data.
	// Override via config: aggregate.end_offset
	DefaultAggregateEndOffset = time.Hour

	// DefaultAggregateInterval is the refresh tick interval.
	// Override via config: aggregate.interval
	DefaultAggregateInterval = 15 * time.Minute

	// DefaultPercentileAccuracy is the DDSketch relative accuracy used
	// for the bikes-available percentiles.
	// Override via config: aggregate.percentile.accuracy
	DefaultPercentileAccuracy = 0.01
)

// =============================================================================
// WAL Defaults
// =============================================================================

const (
	// DefaultWALSyncMode buffers appends and syncs on an interval. At a
	// 15-minute upstream cadence a crash loses at most one sync window of
	// acknowledged rows, which the next upstream fetch re-delivers.
	// Override via config: wal.sync_mode
	DefaultWALSyncMode = "async"

	// DefaultWALSyncInterval is the async sync interval.
	// Override via config: wal.sync_interval
	DefaultWALSyncInterval = time.Second

	// DefaultWALMaxSegmentSize is the segment rotation threshold.
	// Override via config: wal.max_segment_size
	DefaultWALMaxSegmentSize = 64 * 1024 * 1024
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryMemoryLimit caps DuckDB memory for ad-hoc SQL.
	// Override via config: query.memory_limit
	DefaultQueryMemoryLimit = "1GB"

	// DefaultQueryTimeout bounds a single query.
	// Override via config: query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMaxRows caps rows returned by range queries.
	// Override via config: query.max_rows
	DefaultQueryMaxRows = 1_000_000

	// DefaultStaleThreshold marks a station stale when its newest sample
	// is older than this. Four missed 15-minute reports.
	// Override via config: query.stale_threshold
	DefaultStaleThreshold = time.Hour
)
