package wal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/velostore/velostore/internal/storage/types"
)

// Record payloads are fixed-width binary, little-endian. Each payload
// starts with a 4-byte sample count; samples follow back to back.
//
// Status sample layout (45 bytes):
//   TimestampMs(8) StationID(8) BikesAvailable(4) Mechanical(4) Ebike(4)
//   DocksAvailable(4) flags(1) SourceReportedAt(8) + 4 reserved
//
// Weather sample layout (88 bytes):
//   TimestampMs(8) then the twelve observation fields in declaration order,
//   float64 values as 8 bytes, integer values as 4 bytes.

const (
	statusSampleSize  = 45
	weatherSampleSize = 88
)

// EncodeStatus encodes a batch of status samples into a WAL payload.
func EncodeStatus(samples []types.StatusSample) []byte {
	if len(samples) == 0 {
		return nil
	}

	buf := make([]byte, 0, 4+len(samples)*statusSampleSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(samples)))

	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s.TimestampMs))
		buf = binary.LittleEndian.AppendUint64(buf, s.StationID)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.BikesAvailable))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Mechanical))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Ebike))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.DocksAvailable))
		buf = append(buf, packFlags(s.IsInstalled, s.IsReturning, s.IsRenting))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s.SourceReportedAt))
		buf = append(buf, 0, 0, 0, 0)
	}

	return buf
}

// DecodeStatus decodes a WAL payload into status samples.
func DecodeStatus(data []byte) ([]types.StatusSample, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("payload too short for sample count")
	}

	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if count == 0 {
		return nil, nil
	}
	if len(data) < 4+count*statusSampleSize {
		return nil, fmt.Errorf("payload truncated: want %d samples, have %d bytes",
			count, len(data)-4)
	}

	samples := make([]types.StatusSample, count)
	off := 4

	for i := 0; i < count; i++ {
		var s types.StatusSample
		s.TimestampMs = int64(binary.LittleEndian.Uint64(data[off:]))
		s.StationID = binary.LittleEndian.Uint64(data[off+8:])
		s.BikesAvailable = int32(binary.LittleEndian.Uint32(data[off+16:]))
		s.Mechanical = int32(binary.LittleEndian.Uint32(data[off+20:]))
		s.Ebike = int32(binary.LittleEndian.Uint32(data[off+24:]))
		s.DocksAvailable = int32(binary.LittleEndian.Uint32(data[off+28:]))
		s.IsInstalled, s.IsReturning, s.IsRenting = unpackFlags(data[off+32])
		s.SourceReportedAt = int64(binary.LittleEndian.Uint64(data[off+33:]))
		samples[i] = s
		off += statusSampleSize
	}

	return samples, nil
}

// EncodeWeather encodes a batch of weather samples into a WAL payload.
func EncodeWeather(samples []types.WeatherSample) []byte {
	if len(samples) == 0 {
		return nil
	}

	buf := make([]byte, 0, 4+len(samples)*weatherSampleSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(samples)))

	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s.TimestampMs))
		buf = appendFloat(buf, s.Temperature)
		buf = appendFloat(buf, s.ApparentTemperature)
		buf = appendFloat(buf, s.Precipitation)
		buf = appendFloat(buf, s.Rain)
		buf = appendFloat(buf, s.Snowfall)
		buf = appendFloat(buf, s.WindSpeed)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.WindDirection))
		buf = appendFloat(buf, s.WindGusts)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Humidity))
		buf = appendFloat(buf, s.Pressure)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.CloudCover))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.WeatherCode))
	}

	return buf
}

// DecodeWeather decodes a WAL payload into weather samples.
func DecodeWeather(data []byte) ([]types.WeatherSample, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("payload too short for sample count")
	}

	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if count == 0 {
		return nil, nil
	}
	if len(data) < 4+count*weatherSampleSize {
		return nil, fmt.Errorf("payload truncated: want %d samples, have %d bytes",
			count, len(data)-4)
	}

	samples := make([]types.WeatherSample, count)
	off := 4

	for i := 0; i < count; i++ {
		var s types.WeatherSample
		s.TimestampMs = int64(binary.LittleEndian.Uint64(data[off:]))
		s.Temperature = readFloat(data[off+8:])
		s.ApparentTemperature = readFloat(data[off+16:])
		s.Precipitation = readFloat(data[off+24:])
		s.Rain = readFloat(data[off+32:])
		s.Snowfall = readFloat(data[off+40:])
		s.WindSpeed = readFloat(data[off+48:])
		s.WindDirection = int32(binary.LittleEndian.Uint32(data[off+56:]))
		s.WindGusts = readFloat(data[off+60:])
		s.Humidity = int32(binary.LittleEndian.Uint32(data[off+68:]))
		s.Pressure = readFloat(data[off+72:])
		s.CloudCover = int32(binary.LittleEndian.Uint32(data[off+80:]))
		s.WeatherCode = int32(binary.LittleEndian.Uint32(data[off+84:]))
		samples[i] = s
		off += weatherSampleSize
	}

	return samples, nil
}

func packFlags(installed, returning, renting bool) byte {
	var b byte
	if installed {
		b |= 1
	}
	if returning {
		b |= 2
	}
	if renting {
		b |= 4
	}
	return b
}

func unpackFlags(b byte) (installed, returning, renting bool) {
	return b&1 != 0, b&2 != 0, b&4 != 0
}

func appendFloat(buf []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
}

func readFloat(data []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(data))
}
