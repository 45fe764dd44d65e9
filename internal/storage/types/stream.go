package types

import (
	"fmt"
	"time"
)

// Stream identifies a logical sample stream with its own chunking and
// retention configuration.
type Stream int

const (
	// StreamStatus holds station availability samples, chunked daily.
	StreamStatus Stream = iota

	// StreamWeather holds weather observations, chunked weekly.
	StreamWeather
)

// String returns the string representation of the stream.
func (s Stream) String() string {
	switch s {
	case StreamStatus:
		return "status"
	case StreamWeather:
		return "weather"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// DefaultChunkWidth returns the default chunk width for this stream.
// Widths are chosen to bound per-chunk row count: ~1500 stations at a
// 15-minute cadence yields ~144k status rows per daily chunk.
func (s Stream) DefaultChunkWidth() time.Duration {
	switch s {
	case StreamStatus:
		return 24 * time.Hour
	case StreamWeather:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// DefaultRetention returns the default retention horizon for this stream.
func (s Stream) DefaultRetention() time.Duration {
	switch s {
	case StreamStatus:
		return 180 * 24 * time.Hour // 6 months
	case StreamWeather:
		return 180 * 24 * time.Hour // 6 months
	default:
		return 0
	}
}

// ParseStream parses a string into a Stream.
func ParseStream(s string) (Stream, error) {
	switch s {
	case "status":
		return StreamStatus, nil
	case "weather":
		return StreamWeather, nil
	default:
		return StreamStatus, fmt.Errorf("unknown stream: %s", s)
	}
}

// AllStreams returns all chunked streams.
func AllStreams() []Stream {
	return []Stream{StreamStatus, StreamWeather}
}
