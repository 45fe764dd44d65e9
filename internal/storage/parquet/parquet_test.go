package parquet

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/velostore/velostore/internal/storage/types"
)

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
		{"bogus", CompressionZstd},
		{"", CompressionZstd},
	}
	for _, tt := range tests {
		if got := ParseCompressionType(tt.in); got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStatusCodec_Roundtrip(t *testing.T) {
	samples := []types.StatusSample{
		{
			TimestampMs:      1717200000000,
			StationID:        12,
			BikesAvailable:   7,
			Mechanical:       3,
			Ebike:            4,
			DocksAvailable:   23,
			IsInstalled:      true,
			IsReturning:      true,
			IsRenting:        true,
			SourceReportedAt: 1717199990000,
		},
		{
			TimestampMs:    1717200900000,
			StationID:      12,
			BikesAvailable: 0,
			DocksAvailable: 30,
			IsInstalled:    true,
		},
		{
			TimestampMs:    1717200000000,
			StationID:      99,
			BikesAvailable: 2,
			Mechanical:     2,
			DocksAvailable: 5,
		},
	}

	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd} {
		codec := StatusCodec{Compression: ct}
		path := filepath.Join(t.TempDir(), "chunk.parquet")

		if err := codec.WriteFile(path, samples); err != nil {
			t.Fatalf("compression %v: WriteFile: %v", ct, err)
		}
		got, err := codec.ReadFile(path)
		if err != nil {
			t.Fatalf("compression %v: ReadFile: %v", ct, err)
		}
		if !reflect.DeepEqual(got, samples) {
			t.Errorf("compression %v: roundtrip mismatch\ngot  %+v\nwant %+v", ct, got, samples)
		}
	}
}

func TestWeatherCodec_Roundtrip(t *testing.T) {
	samples := []types.WeatherSample{
		{
			TimestampMs:         1717200000000,
			Temperature:         21.5,
			ApparentTemperature: 20.1,
			Precipitation:       0.2,
			Rain:                0.2,
			WindSpeed:           12.4,
			WindDirection:       270,
			WindGusts:           19.8,
			Humidity:            64,
			Pressure:            1013.2,
			CloudCover:          45,
			WeatherCode:         61,
		},
		{
			TimestampMs: 1717203600000,
			Temperature: -3.0,
			Snowfall:    1.5,
			Humidity:    90,
			CloudCover:  100,
			WeatherCode: 73,
		},
	}

	codec := WeatherCodec{Compression: CompressionZstd}
	path := filepath.Join(t.TempDir(), "chunk.parquet")

	if err := codec.WriteFile(path, samples); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := codec.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !reflect.DeepEqual(got, samples) {
		t.Errorf("roundtrip mismatch\ngot  %+v\nwant %+v", got, samples)
	}
}

func TestWriteFile_CreatesParentDirs(t *testing.T) {
	codec := StatusCodec{}
	path := filepath.Join(t.TempDir(), "nested", "deeper", "chunk.parquet")

	if err := codec.WriteFile(path, []types.StatusSample{{TimestampMs: 1, StationID: 1}}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

func TestReadFile_Empty(t *testing.T) {
	codec := StatusCodec{}
	path := filepath.Join(t.TempDir(), "empty.parquet")

	if err := codec.WriteFile(path, nil); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := codec.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no rows, got %d", len(got))
	}
}

func TestReadFile_Missing(t *testing.T) {
	codec := StatusCodec{}
	if _, err := codec.ReadFile(filepath.Join(t.TempDir(), "absent.parquet")); err == nil {
		t.Error("expected error for missing file")
	}
}
