package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/velostore/velostore/config"
	"github.com/velostore/velostore/internal/storage/types"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// Chunks configures time partitioning per stream.
	Chunks ChunksConfig `yaml:"chunks"`

	// Compression configures the columnar compression lifecycle.
	Compression CompressionConfig `yaml:"compression"`

	// Retention defines how long data is kept.
	Retention RetentionConfig `yaml:"retention"`

	// Aggregate configures the continuous hourly rollups.
	Aggregate AggregateConfig `yaml:"aggregate"`

	// WAL configures the write-ahead log.
	WAL WALConfig `yaml:"wal"`

	// Query configures the query service.
	Query QueryConfig `yaml:"query"`
}

// ChunksConfig configures chunk widths per stream. Widths are constants
// chosen to bound per-chunk row count; changing them on an existing data
// directory is not supported.
type ChunksConfig struct {
	// StatusWidth is the chunk width for station status samples.
	StatusWidth time.Duration `yaml:"status_width"`

	// WeatherWidth is the chunk width for weather observations.
	WeatherWidth time.Duration `yaml:"weather_width"`

	// SealInterval is how often elapsed chunks are sealed.
	SealInterval time.Duration `yaml:"seal_interval"`
}

// CompressionConfig configures the columnar compression lifecycle.
type CompressionConfig struct {
	// Age is the minimum age of a sealed chunk before it is compressed.
	Age time.Duration `yaml:"age"`

	// Interval is the background pass interval.
	Interval time.Duration `yaml:"interval"`

	// Workers bounds concurrent per-chunk transforms in one pass.
	Workers int `yaml:"workers"`

	// Algorithm is the Parquet codec: snappy, zstd, lz4, gzip, none.
	Algorithm string `yaml:"algorithm"`
}

// RetentionConfig defines retention horizons.
type RetentionConfig struct {
	// Status is the horizon for station status samples.
	Status time.Duration `yaml:"status"`

	// Weather is the horizon for weather observations.
	Weather time.Duration `yaml:"weather"`

	// Predictions is the horizon for prediction records in the catalog.
	Predictions time.Duration `yaml:"predictions"`

	// Interval is the background pass interval.
	Interval time.Duration `yaml:"interval"`
}

// AggregateConfig configures the continuous hourly rollups.
type AggregateConfig struct {
	// StartOffset is how far back a refresh window begins.
	StartOffset time.Duration `yaml:"start_offset"`

	// EndOffset is the trailing staleness window left uncovered; queries
	// serve it from raw chunks instead.
	EndOffset time.Duration `yaml:"end_offset"`

	// Interval is the refresh tick interval.
	Interval time.Duration `yaml:"interval"`

	// Percentile enables DDSketch percentiles in status buckets.
	Percentile PercentileConfig `yaml:"percentile"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// WALConfig configures the write-ahead log.
type WALConfig struct {
	// SyncMode controls how writes are synced: async, sync, fsync.
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the sync interval for async mode.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit for ad-hoc SQL.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned by ad-hoc SQL.
	MaxRows int `yaml:"max_rows"`

	// StaleThreshold is the default window for stale-station reports.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults for the
// ~1500-station, 15-minute-cadence deployment.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/velostore",
		Chunks: ChunksConfig{
			StatusWidth:  defaults.DefaultStatusChunkWidth,
			WeatherWidth: defaults.DefaultWeatherChunkWidth,
			SealInterval: defaults.DefaultSealInterval,
		},
		Compression: CompressionConfig{
			Age:       defaults.DefaultCompressionAge,
			Interval:  defaults.DefaultCompressionInterval,
			Workers:   defaults.DefaultCompressionWorkers,
			Algorithm: defaults.DefaultCompressionAlgorithm,
		},
		Retention: RetentionConfig{
			Status:      defaults.DefaultStatusRetention,
			Weather:     defaults.DefaultWeatherRetention,
			Predictions: defaults.DefaultPredictionRetention,
			Interval:    defaults.DefaultRetentionInterval,
		},
		Aggregate: AggregateConfig{
			StartOffset: defaults.DefaultAggregateStartOffset,
			EndOffset:   defaults.DefaultAggregateEndOffset,
			Interval:    defaults.DefaultAggregateInterval,
			Percentile: PercentileConfig{
				Enabled:  true,
				Accuracy: defaults.DefaultPercentileAccuracy,
			},
		},
		WAL: WALConfig{
			SyncMode:       defaults.DefaultWALSyncMode,
			SyncInterval:   defaults.DefaultWALSyncInterval,
			MaxSegmentSize: defaults.DefaultWALMaxSegmentSize,
		},
		Query: QueryConfig{
			MemoryLimit:    defaults.DefaultQueryMemoryLimit,
			Timeout:        defaults.DefaultQueryTimeout,
			MaxRows:        defaults.DefaultQueryMaxRows,
			StaleThreshold: defaults.DefaultStaleThreshold,
		},
	}
}

// ChunkWidth returns the configured chunk width for a stream.
func (c *Config) ChunkWidth(stream types.Stream) time.Duration {
	switch stream {
	case types.StreamStatus:
		return c.Chunks.StatusWidth
	case types.StreamWeather:
		return c.Chunks.WeatherWidth
	default:
		return stream.DefaultChunkWidth()
	}
}

// StreamRetention returns the configured retention horizon for a stream.
func (c *Config) StreamRetention(stream types.Stream) time.Duration {
	switch stream {
	case types.StreamStatus:
		return c.Retention.Status
	case types.StreamWeather:
		return c.Retention.Weather
	default:
		return stream.DefaultRetention()
	}
}

// StreamDir returns the chunk directory for a stream.
func (c *Config) StreamDir(stream types.Stream) string {
	return filepath.Join(c.DataDir, "chunks", stream.String())
}

// WALDir returns the WAL directory for a stream.
func (c *Config) WALDir(stream types.Stream) string {
	return filepath.Join(c.DataDir, "wal", stream.String())
}

// CatalogPath returns the DuckDB database path for the station catalog.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	for _, stream := range types.AllStreams() {
		dirs = append(dirs, c.StreamDir(stream), c.WALDir(stream))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
