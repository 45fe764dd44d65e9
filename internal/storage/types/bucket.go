package types

import "time"

// MetricStats holds per-metric rollup statistics for one hourly bucket.
type MetricStats struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64
}

// Add folds a value into the stats.
func (m *MetricStats) Add(v float64) {
	if m.Count == 0 || v < m.Min {
		m.Min = v
	}
	if m.Count == 0 || v > m.Max {
		m.Max = v
	}
	m.Count++
	m.Sum += v
	m.Avg = m.Sum / float64(m.Count)
}

// StatusBucket is an hourly rollup of station availability for one
// (hour, station) pair. Derived data: always rebuildable from raw chunks,
// never a primary source of truth.
type StatusBucket struct {
	BucketStart int64 // Unix milliseconds, hour-aligned
	BucketEnd   int64
	StationID   uint64

	Bikes      MetricStats
	Mechanical MetricStats
	Ebike      MetricStats
	Docks      MetricStats

	// Optional DDSketch percentiles of bikes available (nil when the
	// percentile feature is disabled).
	BikesP50 *float64
	BikesP95 *float64
}

// BucketStartTime returns the bucket start as a time.Time.
func (b *StatusBucket) BucketStartTime() time.Time { return time.UnixMilli(b.BucketStart) }

// IsEmpty returns true if no samples were aggregated.
func (b *StatusBucket) IsEmpty() bool { return b.Bikes.Count == 0 }

// SetPercentiles stores the optional percentile values.
func (b *StatusBucket) SetPercentiles(p50, p95 float64) {
	b.BikesP50 = &p50
	b.BikesP95 = &p95
}

// WeatherBucket is an hourly rollup of the city-wide weather series.
type WeatherBucket struct {
	BucketStart int64
	BucketEnd   int64

	Temperature   MetricStats
	Precipitation MetricStats
	WindSpeed     MetricStats
}

// BucketStartTime returns the bucket start as a time.Time.
func (b *WeatherBucket) BucketStartTime() time.Time { return time.UnixMilli(b.BucketStart) }

// IsEmpty returns true if no samples were aggregated.
func (b *WeatherBucket) IsEmpty() bool { return b.Temperature.Count == 0 }

// HourStart truncates a unix-millisecond timestamp to the start of its hour.
func HourStart(tsMs int64) int64 {
	return time.UnixMilli(tsMs).UTC().Truncate(time.Hour).UnixMilli()
}
