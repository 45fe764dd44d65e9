package types

import "fmt"

// ChunkState is the lifecycle state of a time chunk.
//
// Transitions are strictly forward:
//
//	ACTIVE → SEALED → COMPRESSED → EXPIRED
//
// A sealed chunk still accepts late appends until it is compressed.
// Compression swaps the row representation for a columnar file without
// changing query results. Expiry reclaims storage and is irreversible.
type ChunkState int

const (
	ChunkActive ChunkState = iota
	ChunkSealed
	ChunkCompressed
	ChunkExpired
)

// String returns the state tag persisted alongside chunk metadata.
func (s ChunkState) String() string {
	switch s {
	case ChunkActive:
		return "ACTIVE"
	case ChunkSealed:
		return "SEALED"
	case ChunkCompressed:
		return "COMPRESSED"
	case ChunkExpired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// CanTransition reports whether moving from s to next is a legal
// lifecycle step. Re-entering the same state is allowed so background
// managers are no-ops on chunks already in the target state.
func (s ChunkState) CanTransition(next ChunkState) bool {
	if s == next {
		return true
	}
	switch s {
	case ChunkActive:
		return next == ChunkSealed || next == ChunkExpired
	case ChunkSealed:
		return next == ChunkCompressed || next == ChunkExpired
	case ChunkCompressed:
		return next == ChunkExpired
	default:
		return false
	}
}

// ChunkInfo describes one chunk for stats and persisted layout listings.
type ChunkInfo struct {
	Stream      Stream
	StartMs     int64 // inclusive
	EndMs       int64 // exclusive
	State       ChunkState
	Rows        int
	Quarantined bool
	Path        string // parquet file for COMPRESSED chunks
}
