package types

import "time"

// StatusSample is a single station availability measurement.
// This is the primary data unit flowing through the storage system,
// collected every 15 minutes per station.
type StatusSample struct {
	// Key
	TimestampMs int64  // Unix timestamp in milliseconds
	StationID   uint64 // Station identifier from the catalog

	// Counts. Mechanical + Ebike must equal BikesAvailable.
	BikesAvailable int32
	Mechanical     int32
	Ebike          int32
	DocksAvailable int32

	// Operational flags as reported upstream.
	IsInstalled bool
	IsReturning bool
	IsRenting   bool

	// SourceReportedAt is the upstream feed's own report timestamp (unix
	// seconds). Kept as-is for drift diagnostics, not used as a key.
	SourceReportedAt int64
}

// Ts returns the sample timestamp in unix milliseconds.
func (s StatusSample) Ts() int64 { return s.TimestampMs }

// Series returns the station id the sample belongs to.
func (s StatusSample) Series() uint64 { return s.StationID }

// Equals reports whether two samples carry identical values.
// Used for idempotent duplicate detection on key collision.
func (s StatusSample) Equals(o StatusSample) bool { return s == o }

// Time returns the timestamp as a time.Time.
func (s StatusSample) Time() time.Time { return time.UnixMilli(s.TimestampMs) }

// WeatherSample is a single city-wide weather observation.
// There is one row per timestamp; the series dimension is unused.
// Field set follows the Open-Meteo hourly variables the collector reports.
type WeatherSample struct {
	TimestampMs int64 // Unix timestamp in milliseconds, unique key

	Temperature         float64 // degrees C
	ApparentTemperature float64
	Precipitation       float64 // mm
	Rain                float64
	Snowfall            float64
	WindSpeed           float64 // km/h
	WindDirection       int32   // degrees
	WindGusts           float64
	Humidity            int32 // percent
	Pressure            float64
	CloudCover          int32 // percent
	WeatherCode         int32 // WMO code
}

// Ts returns the sample timestamp in unix milliseconds.
func (s WeatherSample) Ts() int64 { return s.TimestampMs }

// Series returns 0: weather is a single city-wide series.
func (s WeatherSample) Series() uint64 { return 0 }

// Equals reports whether two samples carry identical values.
func (s WeatherSample) Equals(o WeatherSample) bool { return s == o }

// Time returns the timestamp as a time.Time.
func (s WeatherSample) Time() time.Time { return time.UnixMilli(s.TimestampMs) }

// Row is implemented by sample types stored in time chunks.
type Row[T any] interface {
	// Ts returns the sample timestamp in unix milliseconds.
	Ts() int64
	// Series returns the series discriminator (station id, 0 for weather).
	Series() uint64
	// Equals reports value equality with another row of the same type.
	Equals(T) bool
}
