// Package parquet encodes chunk contents as columnar Parquet files.
//
// Compression is a storage-layout transform, never a semantic one: a chunk
// read back from Parquet must yield exactly the rows that went in. Rows are
// written ordered by (station_id asc, time desc) so per-station range scans
// touch contiguous row runs after compression.
package parquet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/velostore/velostore/internal/storage/types"
)

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// StatusRow is the columnar representation of a status sample.
type StatusRow struct {
	TimestampMs      int64  `parquet:"timestamp_ms"`
	StationID        uint64 `parquet:"station_id"`
	BikesAvailable   int32  `parquet:"bikes_available"`
	Mechanical       int32  `parquet:"mechanical"`
	Ebike            int32  `parquet:"ebike"`
	DocksAvailable   int32  `parquet:"docks_available"`
	IsInstalled      bool   `parquet:"is_installed"`
	IsReturning      bool   `parquet:"is_returning"`
	IsRenting        bool   `parquet:"is_renting"`
	SourceReportedAt int64  `parquet:"source_reported_at"`
}

// WeatherRow is the columnar representation of a weather sample.
type WeatherRow struct {
	TimestampMs         int64   `parquet:"timestamp_ms"`
	Temperature         float64 `parquet:"temperature"`
	ApparentTemperature float64 `parquet:"apparent_temperature"`
	Precipitation       float64 `parquet:"precipitation"`
	Rain                float64 `parquet:"rain"`
	Snowfall            float64 `parquet:"snowfall"`
	WindSpeed           float64 `parquet:"wind_speed"`
	WindDirection       int32   `parquet:"wind_direction"`
	WindGusts           float64 `parquet:"wind_gusts"`
	Humidity            int32   `parquet:"humidity"`
	Pressure            float64 `parquet:"pressure"`
	CloudCover          int32   `parquet:"cloud_cover"`
	WeatherCode         int32   `parquet:"weather_code"`
}

func statusToRow(s types.StatusSample) StatusRow {
	return StatusRow{
		TimestampMs:      s.TimestampMs,
		StationID:        s.StationID,
		BikesAvailable:   s.BikesAvailable,
		Mechanical:       s.Mechanical,
		Ebike:            s.Ebike,
		DocksAvailable:   s.DocksAvailable,
		IsInstalled:      s.IsInstalled,
		IsReturning:      s.IsReturning,
		IsRenting:        s.IsRenting,
		SourceReportedAt: s.SourceReportedAt,
	}
}

func rowToStatus(r StatusRow) types.StatusSample {
	return types.StatusSample{
		TimestampMs:      r.TimestampMs,
		StationID:        r.StationID,
		BikesAvailable:   r.BikesAvailable,
		Mechanical:       r.Mechanical,
		Ebike:            r.Ebike,
		DocksAvailable:   r.DocksAvailable,
		IsInstalled:      r.IsInstalled,
		IsReturning:      r.IsReturning,
		IsRenting:        r.IsRenting,
		SourceReportedAt: r.SourceReportedAt,
	}
}

func weatherToRow(s types.WeatherSample) WeatherRow {
	return WeatherRow(s)
}

func rowToWeather(r WeatherRow) types.WeatherSample {
	return types.WeatherSample(r)
}

// writeFile writes rows to a Parquet file, creating parent directories.
func writeFile[R any](path string, rows []R, ct CompressionType) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[R](f, parquet.Compression(getCompression(ct)))

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}

	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return f.Close()
}

// readFile reads all rows from a Parquet file.
func readFile[R any](path string) ([]R, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[R](f)
	defer reader.Close()

	numRows := int(reader.NumRows())
	if numRows == 0 {
		return nil, nil
	}

	rows := make([]R, numRows)
	read := 0
	for read < numRows {
		n, err := reader.Read(rows[read:])
		read += n
		if err != nil {
			if read >= numRows {
				break
			}
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}

	return rows[:read], nil
}

// StatusCodec reads and writes status chunks. It implements the chunk
// store's Codec interface.
type StatusCodec struct {
	Compression CompressionType
}

// WriteFile writes status samples to a Parquet file.
func (c StatusCodec) WriteFile(path string, samples []types.StatusSample) error {
	rows := make([]StatusRow, len(samples))
	for i, s := range samples {
		rows[i] = statusToRow(s)
	}
	return writeFile(path, rows, c.Compression)
}

// ReadFile reads status samples from a Parquet file.
func (c StatusCodec) ReadFile(path string) ([]types.StatusSample, error) {
	rows, err := readFile[StatusRow](path)
	if err != nil {
		return nil, err
	}
	samples := make([]types.StatusSample, len(rows))
	for i, r := range rows {
		samples[i] = rowToStatus(r)
	}
	return samples, nil
}

// WeatherCodec reads and writes weather chunks.
type WeatherCodec struct {
	Compression CompressionType
}

// WriteFile writes weather samples to a Parquet file.
func (c WeatherCodec) WriteFile(path string, samples []types.WeatherSample) error {
	rows := make([]WeatherRow, len(samples))
	for i, s := range samples {
		rows[i] = weatherToRow(s)
	}
	return writeFile(path, rows, c.Compression)
}

// ReadFile reads weather samples from a Parquet file.
func (c WeatherCodec) ReadFile(path string) ([]types.WeatherSample, error) {
	rows, err := readFile[WeatherRow](path)
	if err != nil {
		return nil, err
	}
	samples := make([]types.WeatherSample, len(rows))
	for i, r := range rows {
		samples[i] = rowToWeather(r)
	}
	return samples, nil
}
