package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if err := c.Chunks.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("chunks: %w", err))
	}

	if err := c.Compression.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Aggregate.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("aggregate: %w", err))
	}

	if err := c.WAL.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("wal: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the chunk configuration.
func (c *ChunksConfig) Validate() error {
	var errs []error

	if c.StatusWidth <= 0 {
		errs = append(errs, errors.New("status_width must be positive"))
	}
	if c.WeatherWidth <= 0 {
		errs = append(errs, errors.New("weather_width must be positive"))
	}
	if c.SealInterval <= 0 {
		errs = append(errs, errors.New("seal_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the compression configuration.
func (c *CompressionConfig) Validate() error {
	var errs []error

	if c.Age < 0 {
		errs = append(errs, errors.New("age must not be negative"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	switch c.Algorithm {
	case "", "snappy", "zstd", "lz4", "gzip", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown algorithm %q", c.Algorithm))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
// Horizons must exceed the compression age plus one chunk width, otherwise
// chunks would be expired before ever reaching the compressed state.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.Status <= 0 {
		errs = append(errs, errors.New("status horizon must be positive"))
	}
	if c.Weather <= 0 {
		errs = append(errs, errors.New("weather horizon must be positive"))
	}
	if c.Predictions <= 0 {
		errs = append(errs, errors.New("predictions horizon must be positive"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the aggregate configuration.
func (c *AggregateConfig) Validate() error {
	var errs []error

	if c.StartOffset <= 0 {
		errs = append(errs, errors.New("start_offset must be positive"))
	}
	if c.EndOffset < 0 {
		errs = append(errs, errors.New("end_offset must not be negative"))
	}
	if c.EndOffset >= c.StartOffset {
		errs = append(errs, errors.New("end_offset must be smaller than start_offset"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.Percentile.Enabled && (c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1) {
		errs = append(errs, errors.New("percentile accuracy must be in (0, 1)"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the WAL configuration.
func (c *WALConfig) Validate() error {
	var errs []error

	switch c.SyncMode {
	case "", "async", "sync", "fsync":
	default:
		errs = append(errs, fmt.Errorf("unknown sync_mode %q", c.SyncMode))
	}
	if c.MaxSegmentSize < 0 {
		errs = append(errs, errors.New("max_segment_size must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
